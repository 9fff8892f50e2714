// internal/cli/news.go
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/law-makers/newsfetch/internal/ui"
	"github.com/law-makers/newsfetch/pkg/models"
)

func newNewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "news",
		Short: "Manage the news item cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Add news items from a JSON file (use - for stdin)",
		Long: `Reads a JSON array of news items and records those not seen before.
Items already in the cache keep their processing ledger.`,
		Example: `  # Import items produced by a discovery stage
  newsfetch news import discovered.json

  # Pipe items in
  cat items.json | newsfetch news import -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mustApp(cmd)
			if err != nil {
				return err
			}

			items, err := readNewsItems(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			added, err := a.News.UpdateCache(items)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("✓ Imported %d new of %d items", added, len(items))))
			return nil
		},
	})

	return cmd
}

func readNewsItems(stdin io.Reader, path string) ([]models.NewsItem, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var items []models.NewsItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode news items from %s: %w", path, err)
	}
	return items, nil
}
