// internal/cli/cache.go
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/law-makers/newsfetch/internal/app"
	"github.com/law-makers/newsfetch/internal/cache"
	"github.com/law-makers/newsfetch/internal/ui"
	"github.com/law-makers/newsfetch/internal/utils/output"
)

func newCacheCmd() *cobra.Command {
	var storeName string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the cache stores",
		Long: `Works on one of the two stores: "news" (the news item ledger used by
pipeline stages, default) or "pages" (fetched responses).`,
	}
	cmd.PersistentFlags().StringVar(&storeName, "store", "news", "Store to operate on: news or pages")

	store := func(cmd *cobra.Command) (*cache.Store, error) {
		a, err := mustApp(cmd)
		if err != nil {
			return nil, err
		}
		return selectStore(a, storeName)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show entry counts and per-stage progress",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := store(cmd)
				if err != nil {
					return err
				}
				return output.WriteJSON(cmd.OutOrStdout(), s.Stats())
			},
		},
		newCacheUnprocessedCmd(),
		&cobra.Command{
			Use:   "mark <stage> <url>...",
			Short: "Record that items passed a stage",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := mustApp(cmd)
				if err != nil {
					return err
				}
				if _, err := selectStore(a, storeName); err != nil {
					return err
				}
				var n int
				if storeName == "pages" {
					n, err = a.Pages.MarkBatch(args[1:], args[0])
				} else {
					n, err = a.News.MarkBatch(args[1:], args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("✓ Marked %d of %d items as %s", n, len(args)-1, args[0])))
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset <stage> [url]",
			Short: "Clear a stage for one item, or for every item",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := store(cmd)
				if err != nil {
					return err
				}
				stage := args[0]
				if len(args) == 2 {
					if err := s.ResetProcessing(args[1], stage); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), ui.Success("✓ Reset "+stage+" for "+args[1]))
					return nil
				}
				var n int
				if storeName == "pages" {
					n, err = s.ResetStage(stage)
				} else {
					n, err = GetApp(cmd).News.ResetStage(stage)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("✓ Reset %s for %d items", stage, n)))
				return nil
			},
		},
		newCacheClearCmd(store),
		&cobra.Command{
			Use:   "verify <url> <path>",
			Short: "Check a stage output exists, resetting the item's ledger if not",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := store(cmd)
				if err != nil {
					return err
				}
				if s.VerifyOutputExists(args[0], args[1]) {
					fmt.Fprintln(cmd.OutOrStdout(), ui.Success("✓ "+args[1]+" exists"))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.Error("✗ "+args[1]+" missing, processing status reset"))
				return nil
			},
		},
	)

	return cmd
}

func selectStore(a *app.Application, name string) (*cache.Store, error) {
	switch name {
	case "news", "":
		return a.News.Store(), nil
	case "pages":
		return a.Pages, nil
	}
	return nil, fmt.Errorf("unknown store %q (must be news or pages)", name)
}

func newCacheUnprocessedCmd() *cobra.Command {
	var csvOut bool

	cmd := &cobra.Command{
		Use:   "unprocessed <stage>",
		Short: "List news items not yet processed by a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			items := a.News.GetUnprocessed(args[0])
			if csvOut {
				return output.WriteNewsCSV(cmd.OutOrStdout(), items)
			}
			return output.WriteJSON(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().BoolVar(&csvOut, "csv", false, "Write CSV instead of JSON")
	return cmd
}

func newCacheClearCmd(store func(*cobra.Command) (*cache.Store, error)) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove entries, optionally only those older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store(cmd)
			if err != nil {
				return err
			}
			n, err := s.Clear(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("✓ Removed %d entries from %s", n, s.Path())))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove entries older than this (e.g. 168h)")
	return cmd
}
