package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/business-contact-scraper/internal/ai"
	"github.com/maltedev/business-contact-scraper/internal/browser"
	"github.com/maltedev/business-contact-scraper/internal/config"
	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/parser"
	"github.com/maltedev/business-contact-scraper/internal/pipeline"
	"github.com/maltedev/business-contact-scraper/internal/ratelimit"
	"github.com/maltedev/business-contact-scraper/internal/scraper"
	"github.com/maltedev/business-contact-scraper/internal/storage"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	queryFlags := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{Name: "keyword", Aliases: []string{"k"}, Usage: "business keyword", Required: true},
			&cli.StringFlag{Name: "location", Aliases: []string{"l"}, Usage: "city or area appended to the keyword"},
			&cli.IntFlag{Name: "max-results", Aliases: []string{"n"}, Value: 20, Usage: "stop after this many unique records"},
		}
	}

	return &cli.Command{
		Name:  "scrape",
		Usage: "collect business contacts from one source and store the run as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "runs.json", Usage: "JSON file the runs are stored in"},
			&cli.BoolFlag{Name: "headful", Usage: "show the browser window"},
			&cli.StringFlag{Name: "log-level", Usage: "override LOG_LEVEL"},
		},
		Commands: []*cli.Command{
			{
				Name:  "maps",
				Usage: "scrape Google Maps listings",
				Flags: queryFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return run(ctx, cmd, models.Request{
						Source:     models.SourceMap,
						Keyword:    cmd.String("keyword"),
						Location:   cmd.String("location"),
						MaxResults: cmd.Int("max-results"),
					})
				},
			},
			{
				Name:  "search",
				Usage: "scrape DuckDuckGo results and the pages they link to",
				Flags: queryFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return run(ctx, cmd, models.Request{
						Source:     models.SourceSearch,
						Keyword:    cmd.String("keyword"),
						Location:   cmd.String("location"),
						MaxResults: cmd.Int("max-results"),
					})
				},
			},
			{
				Name:  "registry",
				Usage: "scrape the hsctvn company registry for one registration date",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "registration date, YYYY-MM-DD", Required: true},
					&cli.IntFlag{Name: "max-results", Aliases: []string{"n"}, Value: 100},
					&cli.IntFlag{Name: "max-pages", Usage: "0 walks every page"},
					&cli.BoolFlag{Name: "skip-details", Usage: "keep the list summaries only"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					date, err := models.ParseDate(cmd.String("date"))
					if err != nil {
						return err
					}
					return run(ctx, cmd, models.Request{
						Source:     models.SourceRegistry,
						Date:       date,
						MaxResults: cmd.Int("max-results"),
						MaxPages:   cmd.Int("max-pages"),
					})
				},
			},
		},
	}
}

func run(ctx context.Context, cmd *cli.Command, req models.Request) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if cmd.Bool("headful") {
		cfg.Browser.Headless = false
	}
	if cmd.Bool("skip-details") {
		cfg.Scraper.SkipDetails = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := config.NewLogger(cfg.Logging, os.Stderr)

	sink, err := storage.NewRunStorage(cmd.String("out"))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cmd.String("out"), err)
	}

	extractor, err := ai.New(ctx, cfg.AIConfig(), logger)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewJitterLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax, cfg.Scraper.RequestsPerMin)
	browserOpts := cfg.BrowserOptions()
	sessions := func(context.Context) (scraper.Session, error) {
		b, err := browser.New(browserOpts, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	orchestrator := pipeline.New(sessions, sink, logger,
		scraper.NewListingConnector(0, limiter, logger),
		scraper.NewSearchConnector(0, parser.NewContactParser(), extractor, limiter, logger),
		scraper.NewRegistryConnector(scraper.RegistryOptions{
			BaseURL:      cfg.Scraper.RegistryBaseURL,
			ItemsPerPage: cfg.Scraper.ItemsPerPage,
			SkipDetails:  cfg.Scraper.SkipDetails,
		}, limiter, logger),
	)

	result, err := orchestrator.Run(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	if result.Failed() {
		return fmt.Errorf("run %s failed: %s", result.RunID, result.Reason)
	}
	logger.Info("Run stored", "run_id", result.RunID, "file", cmd.String("out"), "runs_in_file", sink.Stats()["total"])
	return nil
}
