// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/viking-dev/viking/internal/secrets"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// secretStoreFactory creates the secrets.Store used by serve, init, doctor
// and the secret commands. Tests substitute an in-memory store.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: `List, set and delete secrets stored under the viking service in the
operating system keyring. Reference them from the config file as
keyring://viking/<name>.`,
	}

	cmd.AddCommand(
		newSecretListCmd(),
		newSecretSetCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored secret names",
		Args:  cobra.NoArgs,
		RunE:  runSecretList,
	}
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret read from stdin",
		Long:  "Store the first line of stdin under <name>, e.g. echo $KEY | viking secret set openai-api-key.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(secrets.DefaultService)
	if err != nil {
		return vikingerr.Errorf(vikingerr.CodeSecretBackendFailure, "listing secrets: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	slices.Sort(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	value := strings.TrimSpace(line)
	if value == "" {
		if err != nil && !errors.Is(err, io.EOF) {
			return vikingerr.Errorf(vikingerr.CodeCLIInputInvalid, "reading secret from stdin: %w", err)
		}
		return vikingerr.New(vikingerr.CodeSecretInvalidInput, "secret value must not be empty")
	}

	if err := secretStoreFactory().Store(secrets.DefaultService, name, value); err != nil {
		return vikingerr.Errorf(vikingerr.CodeSecretBackendFailure, "storing secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s (keyring://%s/%s)\n", name, secrets.DefaultService, name)
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := secretStoreFactory().Delete(secrets.DefaultService, name); err != nil {
		if vikingerr.HasCode(err, vikingerr.CodeSecretNotFound) {
			return vikingerr.Errorf(vikingerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return vikingerr.Errorf(vikingerr.CodeSecretBackendFailure, "deleting secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
