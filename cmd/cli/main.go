package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/article-autopilot/internal/app"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/crawler"
	"github.com/article-autopilot/internal/storage"
	"github.com/article-autopilot/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	a       *app.App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "autopilot-cli",
		Short: "Operator commands for the article autopilot",
		Long: `Runs crawls, publishing, eviction and SEO generation on demand and
inspects settings, sources, providers and articles.`,
		PersistentPreRunE:  initializeApp,
		PersistentPostRunE: closeApp,
		SilenceUsage:       true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(evictCmd())
	rootCmd.AddCommand(seoCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(articlesCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	a, err = app.Open(cmd.Context(), cfg, log)
	return err
}

func closeApp(cmd *cobra.Command, args []string) error {
	if a == nil {
		return nil
	}
	return a.Close()
}

// ============ CRAWL COMMANDS ============

func crawlCmd() *cobra.Command {
	var sourceID uint
	var sequential bool
	var concurrency int
	var dueOnly bool

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl sources now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if sourceID != 0 {
				result, err := a.Crawler.CrawlByID(ctx, sourceID)
				if err != nil {
					return err
				}
				fmt.Printf("\n=== %s ===\n", result.SourceName)
				fmt.Printf("Found: %d | Processed: %d | Published: %d | Skipped: %d\n",
					result.Found, result.Processed, result.Published, result.Skipped)
				printErrors(result.Errors)
				return nil
			}

			opts := crawler.CrawlOptions{ConcurrencyLimit: concurrency, DueOnly: dueOnly}
			if cmd.Flags().Changed("sequential") {
				parallel := !sequential
				opts.Parallel = &parallel
			}
			run, err := a.Crawler.PerformCrawl(ctx, opts)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Crawl %s ===\n", run.Summary.RunID)
			for _, r := range run.Results {
				status := "ok"
				if !r.Success {
					status = "failed"
				}
				fmt.Printf("[%d] %-24s %-6s found %d, processed %d, published %d, skipped %d\n",
					r.SourceID, r.SourceName, status, r.Found, r.Processed, r.Published, r.Skipped)
				printErrors(r.Errors)
			}
			fmt.Printf("\nSources:   %d/%d succeeded\n", run.Summary.SourcesSucceeded, run.Summary.SourcesAttempted)
			fmt.Printf("Processed: %d\n", run.Summary.TotalProcessed)
			fmt.Printf("Published: %d\n", run.Summary.TotalPublished)
			fmt.Printf("Duration:  %s\n", run.Summary.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().UintVar(&sourceID, "source", 0, "Crawl a single source by ID")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "Crawl sources one at a time")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent sources per batch (1-10)")
	cmd.Flags().BoolVar(&dueOnly, "due-only", false, "Skip sources whose crawl interval has not elapsed")
	return cmd
}

// ============ PUBLISH COMMANDS ============

func publishCmd() *cobra.Command {
	var due bool

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the oldest drafts",
		Long: `Publishes up to five of the oldest drafts. With --due it runs the
scheduled publish batch instead, which also evicts over the article cap.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if due {
				result, err := a.Publisher.PublishDue(ctx)
				if err != nil {
					return err
				}
				if result.Skipped {
					fmt.Println("Skipped: auto-publish is disabled")
					return nil
				}
				fmt.Printf("Published: %d\nEvicted:   %d\n", result.Published, result.Evicted)
				return nil
			}

			n, err := a.Publisher.PublishManual(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Println("Nothing to publish")
				return nil
			}
			fmt.Printf("Published: %d\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&due, "due", false, "Run the scheduled publish batch")
	return cmd
}

func evictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Delete the lowest scoring published articles over the cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.Publisher.Evict(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted: %d\n", n)
			return nil
		},
	}
}

func seoCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "seo",
		Short: "Generate SEO articles now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if count <= 0 {
				settings, err := config.LoadSettings(ctx, a.Repo)
				if err != nil {
					return err
				}
				count = settings.SEODailyCount
			}

			result, err := a.Publisher.GenerateSEOBatch(ctx, count)
			if err != nil {
				return err
			}
			if result.Skipped != "" {
				fmt.Printf("Skipped: %s\n", result.Skipped)
				return nil
			}

			fmt.Printf("\n=== SEO Batch ===\n")
			fmt.Printf("Requested:  %d\n", result.Requested)
			fmt.Printf("Generated:  %d\n", result.Generated)
			fmt.Printf("Duplicates: %d\n", result.Duplicates)
			fmt.Printf("Failed:     %d\n", result.Failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Articles to generate (default: seo_daily_count)")
	return cmd
}

// ============ STATUS COMMANDS ============

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show publishing counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.Publisher.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Published today:     %d\n", stats.PublishedToday)
			fmt.Printf("Published yesterday: %d\n", stats.PublishedYesterday)
			fmt.Printf("Published total:     %d\n", stats.TotalPublished)
			fmt.Printf("Drafts:              %d (%d flagged)\n", stats.Drafts, stats.FlaggedDrafts)
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run a health check with automatic repair",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := a.Monitor.Check(cmd.Context())
			fmt.Printf("Status: %s\n\n", report.Status)
			for _, c := range report.Checks {
				fmt.Printf("  %-10s %-9s %s\n", c.Name, c.Status, c.Message)
			}
			if report.Fatal {
				return fmt.Errorf("store unavailable")
			}
			return nil
		},
	}
}

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show provider quota and the computed schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			fmt.Printf("\n=== Providers ===\n\n")
			for _, p := range a.Dispatcher.Status(ctx) {
				key := "no key"
				if p.HasKey {
					key = "key set"
				}
				fmt.Printf("[%d] %-11s %-8s day %d/%d  hour %d/%d  min %d/%d  errors %.0f%%\n",
					p.Priority, p.Name, key,
					p.Remaining.Daily, p.Limits.Daily,
					p.Remaining.Hourly, p.Limits.Hourly,
					p.Remaining.Minute, p.Limits.Minute,
					p.ErrorRate*100)
			}

			plan, err := a.Repo.GetScheduleConfig(ctx)
			if err != nil {
				fmt.Println("\nNo computed schedule yet. Run 'providers compute'.")
				return nil
			}
			fmt.Printf("\n=== Schedule ===\n")
			fmt.Printf("Crawl every:    %d min\n", plan.CrawlIntervalMinutes)
			fmt.Printf("SEO every:      %d min (%d per run)\n", plan.SEOIntervalMinutes, plan.SEOCountPerRun)
			fmt.Printf("Cleanup every:  %d min\n", plan.CleanupIntervalMinutes)
			fmt.Printf("Favored:        %s\n", plan.FavoredProvider)
			fmt.Printf("Fallbacks:      %s\n", strings.Join(plan.FallbackProviders, ", "))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "compute",
		Short: "Recompute the schedule from remaining quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.Dispatcher.ComputeSchedule(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Crawl every %d min, SEO every %d min, favored %s\n",
				plan.CrawlIntervalMinutes, plan.SEOIntervalMinutes, plan.FavoredProvider)
			return nil
		},
	})
	return cmd
}

// ============ SETTINGS COMMANDS ============

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change runtime settings",
	}

	cmd.AddCommand(settingsListCmd())
	cmd.AddCommand(settingsSetCmd())
	return cmd
}

func settingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.Repo.ListSettings(cmd.Context())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(raw))
			for k := range raw {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				v := raw[k]
				if strings.HasPrefix(k, "api_key_") && v != "" {
					v = "********"
				}
				fmt.Printf("%-26s %s\n", k, v)
			}

			if err := config.ParseSettings(raw).Validate(); err != nil {
				fmt.Printf("\nWarning: %v\n", err)
			}
			return nil
		},
	}
}

func settingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Change a setting; the daemon picks it up within a minute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, value := args[0], args[1]

			raw, err := a.Repo.ListSettings(ctx)
			if err != nil {
				return err
			}
			raw[key] = value
			for _, bad := range config.ParseSettings(raw).Invalid {
				if bad == key {
					return fmt.Errorf("invalid value %q for %s", value, key)
				}
			}

			if err := a.Repo.SetSetting(ctx, key, value); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", key, value)
			return nil
		},
	}
}

// ============ SOURCES COMMANDS ============

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List and manage crawl sources",
	}

	cmd.AddCommand(sourcesListCmd())
	cmd.AddCommand(sourcesSeedCmd())
	cmd.AddCommand(sourcesToggleCmd("enable", true))
	cmd.AddCommand(sourcesToggleCmd("disable", false))
	return cmd
}

func sourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List crawl sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := a.Repo.ListSources(cmd.Context(), false)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Sources (%d) ===\n\n", len(sources))
			for _, s := range sources {
				state := "enabled"
				if !s.Enabled {
					state = "disabled"
				}
				last := "never"
				if s.LastCrawlAt != nil {
					last = s.LastCrawlAt.Format(time.RFC1123)
				}
				fmt.Printf("[%d] %s (%s)\n", s.ID, s.Name, state)
				fmt.Printf("    %s | every %d min | max %d | last crawl %s\n", s.BaseURL, s.CrawlIntervalMinutes, s.ArticleCap(), last)
				if s.FeedURL != "" {
					fmt.Printf("    Feed: %s\n", s.FeedURL)
				}
			}
			return nil
		},
	}
}

func sourcesSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the configured sources that do not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := cfg.Sources
			if len(sources) == 0 {
				sources = config.DefaultSources
			}
			n, err := crawler.SeedSources(cmd.Context(), a.Repo, sources)
			if err != nil {
				return err
			}
			fmt.Printf("Created %d of %d sources\n", n, len(sources))
			return nil
		},
	}
}

func sourcesToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [source-id]",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			src, err := a.Repo.GetSourceByID(ctx, id)
			if err != nil {
				return err
			}
			src.Enabled = enabled
			if err := a.Repo.UpdateSource(ctx, src); err != nil {
				return err
			}
			fmt.Printf("Source %d %sd\n", id, verb)
			return nil
		},
	}
}

// ============ ARTICLES COMMANDS ============

func articlesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "List and inspect articles",
	}

	cmd.AddCommand(articlesListCmd())
	cmd.AddCommand(articlesViewCmd())
	return cmd
}

func articlesListCmd() *cobra.Command {
	var drafts bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.PublishedFilter()
			if drafts {
				filter = storage.AllDraftsFilter()
				filter.OrderBy = "created_at"
			}
			filter.Limit = limit

			articles, err := a.Repo.ListArticles(cmd.Context(), filter)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Articles (%d) ===\n\n", len(articles))
			for _, art := range articles {
				flag := ""
				if art.QualityFlagged {
					flag = " [flagged]"
				}
				fmt.Printf("[%d] %.0f | %s%s\n", art.ID, art.QualityScore, art.Title, flag)
				fmt.Printf("    %s | %s | %d views\n", art.Slug, art.Origin, art.ViewCount)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&drafts, "drafts", false, "List drafts instead of published articles")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum articles to show")
	return cmd
}

func articlesViewCmd() *cobra.Command {
	var delta int

	cmd := &cobra.Command{
		Use:   "view [article-id]",
		Short: "Record page views for an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.Repo.IncrementArticleViews(ctx, id, delta); err != nil {
				return err
			}
			art, err := a.Repo.GetArticleByID(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s now has %d views\n", art.Slug, art.ViewCount)
			return nil
		},
	}

	cmd.Flags().IntVar(&delta, "count", 1, "Views to add")
	return cmd
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID: %w", err)
	}
	return uint(id), nil
}

func printErrors(errs []string) {
	for _, e := range errs {
		fmt.Printf("    - %s\n", e)
	}
}
