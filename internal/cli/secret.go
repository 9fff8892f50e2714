// internal/cli/secret.go
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/law-makers/newsfetch/internal/auth"
	"github.com/law-makers/newsfetch/internal/ui"
)

// newSecrets is replaced in tests
var newSecrets = func() (*auth.Secrets, error) {
	return auth.New(auth.Options{})
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Store credentials in the OS keyring",
		Long: fmt.Sprintf(`Stores credentials in the OS keyring, or in files under ~/%s when no
keyring is available. Known names:

- %s (challenge solving service)
- %s (smartproxy gateway)

Values from the environment or config file take precedence.`, auth.FallbackDir, auth.SolverAPIKey, auth.SmartproxyPassword),
		Annotations: map[string]string{skipApp: "true"},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:         "set <name> [value]",
			Short:       "Store a secret (reads the value from stdin when omitted)",
			Args:        cobra.RangeArgs(1, 2),
			Annotations: map[string]string{skipApp: "true"},
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newSecrets()
				if err != nil {
					return err
				}
				value := ""
				if len(args) == 2 {
					value = args[1]
				} else if value, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
				if err := s.Set(args[0], value); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success("✓ Saved "+args[0]))
				return nil
			},
		},
		&cobra.Command{
			Use:         "delete <name>",
			Short:       "Remove a stored secret",
			Args:        cobra.ExactArgs(1),
			Annotations: map[string]string{skipApp: "true"},
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newSecrets()
				if err != nil {
					return err
				}
				if err := s.Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success("✓ Deleted "+args[0]))
				return nil
			},
		},
		&cobra.Command{
			Use:         "list",
			Short:       "List stored secret names",
			Args:        cobra.NoArgs,
			Annotations: map[string]string{skipApp: "true"},
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newSecrets()
				if err != nil {
					return err
				}
				names, err := s.List()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			},
		},
	)

	return cmd
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", errors.New("empty secret value")
	}
	return value, nil
}
