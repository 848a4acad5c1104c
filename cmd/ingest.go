package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stelwijs/stelwijs/internal/app"
	"github.com/stelwijs/stelwijs/internal/ingest"
	"github.com/stelwijs/stelwijs/internal/scrape"
)

var (
	crawlSite     bool
	crawlDepth    int
	crawlMaxPages int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <url> [url...]",
	Short: "Fetch pages and index them into the knowledge base",
	Long: `Ingest fetches each URL, chunks the content and stores it with embeddings.
Already ingested URLs are skipped; use reprocess to refresh them.

With --crawl, same-host links are followed from the first URL up to --depth
levels, bounded by --max-pages.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&crawlSite, "crawl", false, "follow same-host links from the first URL")
	ingestCmd.Flags().IntVar(&crawlDepth, "depth", 1, "link depth to follow when crawling (0 = root only)")
	ingestCmd.Flags().IntVar(&crawlMaxPages, "max-pages", scrape.DefaultMaxPages, "page limit when crawling")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := checkRequiredEnv(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	urls := args
	if crawlSite {
		if len(args) > 1 {
			return fmt.Errorf("--crawl takes a single root URL")
		}
		crawler := scrape.NewCrawler(crawlDepth, logger)
		urls, err = crawler.Discover(ctx, args[0], crawlMaxPages)
		if err != nil {
			return fmt.Errorf("crawling %s: %w", args[0], err)
		}
		logger.Info("crawl finished", "root", args[0], "pages", len(urls))
	}

	results, err := a.Pipeline.IngestBatch(ctx, urls)
	for _, r := range results {
		printResult(cmd, r)
	}
	if err != nil {
		return fmt.Errorf("ingesting: %w", err)
	}
	return nil
}

func printResult(cmd *cobra.Command, r ingest.Result) {
	if r.Skipped {
		cmd.Printf("skipped   %s (already ingested)\n", r.SourceURL)
		return
	}
	cmd.Printf("ingested  %s (%q, %d chunks, %d embeddings)\n",
		r.SourceURL, r.Title, r.ChunksCreated, r.EmbeddingsGenerated)
}
