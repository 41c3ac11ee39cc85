package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/piperun"
	"github.com/loykin/piperun/internal/store"
	"github.com/loykin/piperun/pkg/status"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errStoreDisabled = errors.New("run store is disabled in the pipeline document")

func openStore(ctx context.Context) (*store.Store, error) {
	doc, err := piperun.Load(viper.GetString("pipeline"))
	if err != nil {
		return nil, err
	}
	if err := doc.SetupLogging(); err != nil {
		return nil, err
	}
	st, err := piperun.OpenStore(ctx, doc)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errStoreDisabled
	}
	return st, nil
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		items, err := status.List(cmd.Context(), st, store.ListOptions{
			Limit:   viper.GetInt("limit"),
			Outcome: viper.GetString("outcome"),
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), status.FormatList(items))
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run with its stages and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		d, err := status.Show(cmd.Context(), st, args[0])
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), status.FormatDetail(d))
		return nil
	},
}
