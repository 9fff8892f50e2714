// internal/cli/solver.go
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSolverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solver",
		Short: "Challenge solving service utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Show the solving service account balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			if !a.Solver.Available() {
				return errors.New("no solver API key configured (set TWOCAPTCHA_API_KEY or run: newsfetch secret set solver-api-key)")
			}
			balance, ok := a.Solver.Balance(cmd.Context())
			if !ok {
				return errors.New("could not read solver balance")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s balance: $%.2f\n", a.Config.SolverService, balance)
			return nil
		},
	})

	return cmd
}
