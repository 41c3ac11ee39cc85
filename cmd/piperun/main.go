package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "piperun",
	Short:         "Run an ordered pipeline of external tools with per-stage failure isolation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	v := viper.GetViper()
	v.SetDefault("pipeline", "./pipeline.yaml")
	v.SetDefault("ref", "")
	v.SetDefault("limit", 10)
	v.SetDefault("outcome", "")
	v.SetDefault("addr", ":8088")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "")
	v.SetDefault("verbose", false)

	// Environment variables support: PIPERUN_PIPELINE, PIPERUN_JWT_SECRET, ...
	v.SetEnvPrefix("PIPERUN")
	v.AutomaticEnv()

	rootCmd.PersistentFlags().String("pipeline", v.GetString("pipeline"), "path to the pipeline document")
	runCmd.Flags().String("ref", v.GetString("ref"), "source revision that triggered the run")
	runCmd.Flags().BoolP("verbose", "v", v.GetBool("verbose"), "stream masked stage output to the terminal")
	runsCmd.PersistentFlags().Int("limit", v.GetInt("limit"), "maximum number of runs to list")
	runsCmd.PersistentFlags().String("outcome", v.GetString("outcome"), "only list runs with this outcome (Completed, Aborted)")
	serveCmd.Flags().String("addr", v.GetString("addr"), "listen address of the status API")
	serveCmd.Flags().String("jwt-secret", v.GetString("jwt_secret"), "HS256 secret; empty disables authentication")
	serveCmd.Flags().String("jwt-issuer", v.GetString("jwt_issuer"), "required token issuer")

	_ = v.BindPFlag("pipeline", rootCmd.PersistentFlags().Lookup("pipeline"))
	_ = v.BindPFlag("ref", runCmd.Flags().Lookup("ref"))
	_ = v.BindPFlag("verbose", runCmd.Flags().Lookup("verbose"))
	_ = v.BindPFlag("limit", runsCmd.PersistentFlags().Lookup("limit"))
	_ = v.BindPFlag("outcome", runsCmd.PersistentFlags().Lookup("outcome"))
	_ = v.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("jwt_secret", serveCmd.Flags().Lookup("jwt-secret"))
	_ = v.BindPFlag("jwt_issuer", serveCmd.Flags().Lookup("jwt-issuer"))

	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			exitHandler.Exit(ec.code)
			return
		}
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
