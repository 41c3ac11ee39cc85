package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/piperun"
	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/pkg/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// abortedExitCode is returned when a strict stage failure or cancellation
// aborted the run.
const abortedExitCode = 2

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runPipeline(ctx, cmd.OutOrStdout(), viper.GetString("pipeline"), viper.GetString("ref"), viper.GetBool("verbose"))
	},
}

func runPipeline(ctx context.Context, out io.Writer, path, ref string, verbose bool) error {
	doc, err := piperun.Load(path)
	if err != nil {
		return err
	}
	if err := doc.SetupLogging(); err != nil {
		return err
	}
	logger := common.GetLogger().WithComponent("main")

	var stream io.Writer
	if verbose {
		stream = out
	}
	p, err := piperun.Open(ctx, doc, stream)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("closing pipeline resources failed", "error", err)
		}
	}()

	run, err := p.Run(ctx, ref)
	if err != nil {
		return fmt.Errorf("run not started: %w", err)
	}
	_, _ = fmt.Fprint(out, renderSummary(run.Snapshot()))
	if run.Outcome() == pipeline.StatusAborted {
		return &exitCodeError{code: abortedExitCode, msg: "run " + run.ID + " aborted"}
	}
	return nil
}
