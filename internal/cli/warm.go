// internal/cli/warm.go
package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/law-makers/newsfetch/internal/app"
	"github.com/law-makers/newsfetch/internal/engine/batch"
	"github.com/law-makers/newsfetch/internal/fetch"
	"github.com/law-makers/newsfetch/internal/ui"
)

type warmOptions struct {
	stage   string
	limit   int
	browser bool
}

func newWarmCmd() *cobra.Command {
	o := &warmOptions{}

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Fetch unprocessed news items and mark them",
		Long: `Fetches every news item the stage has not processed yet, filling the page
cache. Items fetched with a 2xx status are marked as processed by the stage.`,
		Example: `  # Fetch everything the fetch stage has not seen
  newsfetch warm --stage fetch

  # Only the first 20, rendered in the browser
  newsfetch warm --stage fetch --limit 20 --browser`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}
			return runWarm(cmd, a, o)
		},
	}

	cmd.Flags().StringVar(&o.stage, "stage", "fetch", "Stage to mark fetched items with")
	cmd.Flags().IntVar(&o.limit, "limit", 0, "Fetch at most this many items (0 for all)")
	cmd.Flags().BoolVar(&o.browser, "browser", false, "Go straight to the browser path")

	return cmd
}

func runWarm(cmd *cobra.Command, a *app.Application, o *warmOptions) error {
	out := cmd.OutOrStdout()

	items := a.News.GetUnprocessed(o.stage)
	if o.limit > 0 && len(items) > o.limit {
		items = items[:o.limit]
	}
	if len(items) == 0 {
		fmt.Fprintln(out, ui.Info("Nothing to fetch for stage "+o.stage))
		return nil
	}

	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = item.URL
	}

	var opts []fetch.Option
	if o.browser {
		opts = append(opts, fetch.ForceBrowser())
	}

	bar := progressbar.NewOptions(len(urls),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription(fmt.Sprintf("Fetching (%d workers)", a.Batch.Concurrency())),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)

	s := summarize(a, a.Batch.Run(cmd.Context(), urls, opts...), o.stage, bar)
	_ = bar.Finish()

	fmt.Fprintf(out, "%s %d fetched, %d marked %s\n", ui.Success("✓"), s.fetched, s.marked, o.stage)
	if s.failed > 0 {
		fmt.Fprintln(out, ui.Warn(fmt.Sprintf("! %d failed, they stay unprocessed", s.failed)))
	}
	return cmd.Context().Err()
}

type warmSummary struct {
	fetched int
	marked  int
	failed  int
}

func summarize(a *app.Application, results <-chan batch.Result, stage string, bar *progressbar.ProgressBar) warmSummary {
	var s warmSummary
	for r := range results {
		_ = bar.Add(1)

		if r.Err != nil {
			s.failed++
			continue
		}
		s.fetched++
		if !r.Result.OK() {
			log.Debug().Str("url", r.URL).Int("status", r.Result.StatusCode).Msg("Not marking non-2xx result")
			continue
		}
		if err := a.News.MarkProcessed(r.URL, stage); err != nil {
			log.Warn().Err(err).Str("url", r.URL).Msg("Failed to mark item")
			continue
		}
		s.marked++
	}
	return s
}
