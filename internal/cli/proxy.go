// internal/cli/proxy.go
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/law-makers/newsfetch/internal/ui"
)

func newProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Inspect configured proxy identities",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List proxy identities with their status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := mustApp(cmd)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				ids := a.Proxies.Identities()
				if len(ids) == 0 {
					fmt.Fprintln(out, ui.Info("No proxies configured"))
					return nil
				}
				for _, id := range ids {
					status := ui.Success("available")
					if a.Proxies.IsBlacklisted(id) {
						status = ui.Error("blacklisted")
					}
					fmt.Fprintf(out, "  %-50s %s\n", id.String(), status)
				}
				fmt.Fprintf(out, "\n%d of %d available, proxying %s\n",
					a.Proxies.AvailableCount(), a.Proxies.Count(), enabledLabel(a.Proxies.Enabled()))
				return nil
			},
		},
		newProxyTestCmd(),
	)

	return cmd
}

func newProxyTestCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Probe every identity against the IP echo endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			results := a.Proxies.TestAll(cmd.Context(), concurrency)
			if len(results) == 0 {
				fmt.Fprintln(out, ui.Info("No proxies configured"))
				return nil
			}

			working := 0
			for _, r := range results {
				if r.OK {
					working++
					fmt.Fprintf(out, "  %s %-50s %s\n", ui.Success("✓"), r.Identity.String(), r.IP)
					continue
				}
				fmt.Fprintf(out, "  %s %-50s %v\n", ui.Error("✗"), r.Identity.String(), r.Err)
			}
			fmt.Fprintf(out, "\n%d of %d working\n", working, len(results))
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Identities probed at once")
	return cmd
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
