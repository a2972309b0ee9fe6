// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/viking-dev/viking/internal/config"
	"github.com/viking-dev/viking/internal/secrets"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the viking server",
		Long:    "Load configuration, recover interrupted ingestion work, start the workers and serve the HTTP API.",
		RunE:    runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		v.Set("networking.listen", listen)
	}

	keyring := secretStoreFactory()
	if err := secrets.ResolveViper(v, keyring); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	dataDir := resolveDataDir()
	app, err := WireApp(cfg, dataDir, keyring)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "viking %s listening on %s (data: %s)\n",
		version, cfg.Networking.Listen, dataDir); err != nil {
		_ = app.Close()
		return err
	}

	runErr := app.Start(ctx)
	slog.Info("shutting down")
	closeErr := app.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return vikingerr.Wrap(runErr, vikingerr.CodeServerStartFailure, "running server")
	}
	return closeErr
}
