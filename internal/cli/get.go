// internal/cli/get.go
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/law-makers/newsfetch/internal/fetch"
	"github.com/law-makers/newsfetch/internal/ui"
	"github.com/law-makers/newsfetch/internal/utils/headers"
	"github.com/law-makers/newsfetch/internal/utils/output"
	"github.com/law-makers/newsfetch/pkg/models"
)

type getOptions struct {
	format  string
	output  string
	refresh bool
	browser bool
	retries int
	timeout time.Duration
	headers []string
	links   bool
	dest    string
}

func newGetCmd() *cobra.Command {
	o := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Fetch a URL through the resilient client",
		Long: `Fetches a URL with the light HTTP path first and escalates to a headless
browser when the page is challenge-gated or needs JavaScript.

Successful responses are cached. Use --refresh to bypass the cache lookup.`,
		Example: `  # Fetch and print a summary
  newsfetch get https://example.com/article

  # Save the page as markdown
  newsfetch get https://example.com/article --format md -o article.md

  # Render with the browser and extract links
  newsfetch get https://example.com --browser --links

  # Download a file
  newsfetch get https://example.com/report.pdf --download report.pdf

  # Add custom headers
  newsfetch get https://example.com -H "Referer: https://news.google.com/"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, o, args[0])
		},
	}

	cmd.Flags().StringVarP(&o.format, "format", "f", "", "Output format: json, html, txt or md (default from --output extension, else summary)")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "File path to save output")
	cmd.Flags().BoolVar(&o.refresh, "refresh", false, "Skip the cache lookup")
	cmd.Flags().BoolVar(&o.browser, "browser", false, "Go straight to the browser path")
	cmd.Flags().IntVar(&o.retries, "retries", 0, "Attempt budget (default from config)")
	cmd.Flags().DurationVar(&o.timeout, "request-timeout", 0, "Per-attempt timeout (default from config)")
	cmd.Flags().StringArrayVarP(&o.headers, "header", "H", nil, "Custom headers (e.g., -H \"Referer: https://x\")")
	cmd.Flags().BoolVar(&o.links, "links", false, "Print the absolute links found on the page")
	cmd.Flags().StringVar(&o.dest, "download", "", "Stream the response body to this path instead")

	return cmd
}

func runGet(cmd *cobra.Command, o *getOptions, url string) error {
	a, err := mustApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if o.dest != "" {
		n, err := a.Client.Download(ctx, url, o.dest)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.Success(fmt.Sprintf("✓ Downloaded %d bytes to %s", n, o.dest)))
		return nil
	}

	h, err := headers.ParseHeaders(o.headers)
	if err != nil {
		return err
	}

	opts := []fetch.Option{fetch.WithHeaders(h)}
	if o.refresh {
		opts = append(opts, fetch.WithoutCache())
	}
	if o.browser {
		opts = append(opts, fetch.ForceBrowser())
	}
	if o.retries > 0 {
		opts = append(opts, fetch.WithRetries(o.retries))
	}
	if o.timeout > 0 {
		opts = append(opts, fetch.WithTimeout(o.timeout))
	}

	log.Debug().Str("url", url).Msg("Fetching URL")
	res, err := a.Client.Get(ctx, url, opts...)
	if err != nil {
		return err
	}

	if o.links {
		for _, link := range fetch.ExtractLinks(res, "") {
			fmt.Fprintln(out, link)
		}
		return nil
	}

	format := o.format
	if format == "" {
		format = formatFromPath(o.output)
	}

	if o.output != "" {
		if err := saveResult(res, format, o.output); err != nil {
			return err
		}
		fmt.Fprintln(out, ui.Success("✓ Saved to "+o.output))
		return nil
	}

	return printResult(out, res, format)
}

func formatFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".html"), strings.HasSuffix(path, ".htm"):
		return "html"
	case strings.HasSuffix(path, ".txt"):
		return "txt"
	case strings.HasSuffix(path, ".md"):
		return "md"
	case path != "":
		return "json"
	}
	return ""
}

func saveResult(res *models.FetchResult, format, path string) error {
	switch format {
	case "html":
		return output.SaveHTML(res.Body, path, false)
	case "txt":
		return output.SaveText(fetch.ExtractText(res), path)
	case "md":
		return output.SaveMarkdown(res, path)
	case "json", "":
		return output.SaveJSON(res, path)
	}
	return fmt.Errorf("unknown format %q (must be json, html, txt or md)", format)
}

func printResult(w io.Writer, res *models.FetchResult, format string) error {
	switch format {
	case "json":
		return output.WriteJSON(w, res)
	case "html":
		_, err := io.WriteString(w, res.Body+"\n")
		return err
	case "txt":
		_, err := io.WriteString(w, fetch.ExtractText(res)+"\n")
		return err
	case "md":
		md, err := fetch.ExtractMarkdown(res)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, md+"\n")
		return err
	case "":
	default:
		return fmt.Errorf("unknown format %q (must be json, html, txt or md)", format)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", ui.Bold("URL:          "), res.URL)
	fmt.Fprintf(w, "%s %d\n", ui.Bold("Status:       "), res.StatusCode)
	fmt.Fprintf(w, "%s %s\n", ui.Bold("Path:         "), res.Path)
	fmt.Fprintf(w, "%s %dms\n", ui.Bold("Response Time:"), res.ResponseTime)
	fmt.Fprintf(w, "%s %d bytes\n", ui.Bold("Size:         "), len(res.Body))
	fmt.Fprintln(w)

	preview := fetch.ExtractText(res)
	if len(preview) > 500 {
		preview = preview[:500] + "..."
	}
	fmt.Fprintf(w, "%s\n%s\n", ui.Info("Content Preview:"), preview)
	return nil
}
