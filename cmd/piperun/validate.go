package main

import (
	"fmt"

	"github.com/loykin/piperun"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the pipeline document without running anything",
	Long: `Validate the pipeline document. This command checks:
- YAML syntax and the document schema
- Stage names are unique and every stage declares its isolation
- Base environment, secret providers and the notification transport can be built`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("pipeline")
		doc, err := piperun.Load(path)
		if err != nil {
			return err
		}
		reg, err := doc.Check()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "%s: %d stage(s)\n", path, reg.Len())
		for i, st := range reg.Stages() {
			_, _ = fmt.Fprintf(out, "  %d. %-20s %s\n", i+1, st.Name, st.Isolation)
		}
		_, _ = fmt.Fprintln(out, "pipeline is valid")
		return nil
	},
}
