package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/pkg/status"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only run status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		logger := common.GetLogger().WithComponent("serve")
		auth := status.AuthConfig{
			Secret: viper.GetString("jwt_secret"),
			Issuer: viper.GetString("jwt_issuer"),
		}
		if !auth.Enabled() {
			logger.Warn("status API authentication disabled; set PIPERUN_JWT_SECRET to enable it")
		}
		srv := &http.Server{
			Addr:              viper.GetString("addr"),
			Handler:           status.NewHandler(st, auth),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		logger.Info("status API listening", "addr", srv.Addr, "driver", st.Driver())

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}
