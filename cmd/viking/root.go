// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/viking-dev/viking/internal/config"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// NewRootCmd creates the root viking command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "viking",
		Short:         "Viking: resource ingestion and semantic search",
		Long:          "Viking ingests documents from URLs and local paths into a viking:// namespace and answers semantic search queries over them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initViper(cmd); err != nil {
				return err
			}
			setupLogging(viper.GetViper(), cmd.ErrOrStderr())
			return nil
		},
	}

	// Global flags; these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	root.PersistentFlags().String("address", "", "server address for client commands (default: networking.listen)")
	root.PersistentFlags().String("api-key", "", "API key sent by client commands")

	root.AddCommand(
		newServeCmd(),
		newAddCmd(),
		newStatusCmd(),
		newLsCmd(),
		newFindCmd(),
		newRmCmd(),
		newQueueCmd(),
		newVersionCmd(),
		newDoctorCmd(),
		newInitCmd(),
		newSecretCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return vikingerr.Errorf(vikingerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is omitted: with it set Viper also tries the bare
		// name, which collides with a ./viking binary.
		v.SetConfigName("viking")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/viking")
		v.AddConfigPath("/etc/viking")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return vikingerr.Errorf(vikingerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return vikingerr.Errorf(vikingerr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}
	config.WarnInsecurePermissions(v.ConfigFileUsed())

	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"storage.data_dir": "data-dir",
		"verbose":          "verbose",
		"client.address":   "address",
		"client.api_key":   "api-key",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return vikingerr.Errorf(vikingerr.CodeCLISetupFailure, "binding %s flag: %w", flag, err)
		}
	}

	return nil
}

// setupLogging installs the default slog handler from log.level,
// log.format and --verbose.
func setupLogging(v *viper.Viper, w io.Writer) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(v.GetString("log.format"), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// resolveDataDir returns the data directory from viper or ~/.viking.
func resolveDataDir() string {
	if dataDir := viper.GetString("storage.data_dir"); dataDir != "" {
		return dataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".viking"
	}
	return filepath.Join(home, ".viking")
}
