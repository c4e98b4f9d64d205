package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/business-contact-scraper/internal/browser"
	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/parser"
	"github.com/maltedev/business-contact-scraper/internal/ratelimit"
)

const (
	DefaultRegistryBaseURL = "https://hsctvn.com"
	DefaultItemsPerPage    = 12
)

var (
	registryListLoad = browser.LoadOptions{
		ReadySelector: "li:has(h3 > a)",
		ReadyTimeout:  10 * time.Second,
		Settle:        2 * time.Second,
	}
	registryNextLoad   = browser.LoadOptions{Settle: 500 * time.Millisecond}
	registryDetailLoad = browser.LoadOptions{Settle: 500 * time.Millisecond}
)

// RegistryConnector walks the numbered list pages of one registry date and
// enriches each entry from its detail page.
type RegistryConnector struct {
	baseURL      string
	itemsPerPage int
	details      bool
	fields       parser.FieldExtractor
	pace         pacer
	logger       *slog.Logger
}

type RegistryOptions struct {
	BaseURL      string
	ItemsPerPage int
	// SkipDetails disables detail page fetches.
	SkipDetails bool
	// Fields reads contact fields from detail pages. Defaults to a ContactParser.
	Fields parser.FieldExtractor
}

func NewRegistryConnector(opts RegistryOptions, limiter ratelimit.RateLimiter, logger *slog.Logger) *RegistryConnector {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRegistryBaseURL
	}
	if opts.ItemsPerPage <= 0 {
		opts.ItemsPerPage = DefaultItemsPerPage
	}
	if opts.Fields == nil {
		opts.Fields = parser.NewContactParser()
	}
	return &RegistryConnector{
		baseURL:      opts.BaseURL,
		itemsPerPage: opts.ItemsPerPage,
		details:      !opts.SkipDetails,
		fields:       opts.Fields,
		pace:         newPacer(limiter),
		logger:       componentLogger(logger, "registry_connector"),
	}
}

func (c *RegistryConnector) Source() models.SourceTag {
	return models.SourceRegistry
}

func (c *RegistryConnector) Run(ctx context.Context, session Session, req models.Request, out Collector) error {
	firstURL := parser.RegistryListURL(c.baseURL, req.Date, 1)
	c.logger.Info("Starting registry crawl",
		"date", req.Date.Format(time.DateOnly),
		"url", firstURL,
		"max_results", req.MaxResults,
		"max_pages", req.MaxPages)

	if err := c.pace.wait(ctx); err != nil {
		return err
	}
	snap, err := session.Load(ctx, firstURL, registryListLoad)
	c.pace.record(err)
	if err != nil {
		c.logger.Error("Failed to load first list page", "url", firstURL, "error", err)
		return ctx.Err()
	}

	total := parser.ParseTotalCount(snap.HTML, snap.Text)
	if total == 0 {
		c.logger.Warn("No companies listed for date", "url", firstURL)
		return nil
	}

	pages := parser.PlanPages(total, c.itemsPerPage, req.MaxPages, req.MaxResults)
	c.logger.Info("Planned list pages", "total_companies", total, "pages", pages)

	for page := 1; page <= pages; page++ {
		if out.Done() {
			c.logger.Info("Result cap reached, skipping remaining pages", "next_page", page)
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		pageURL := parser.RegistryListURL(c.baseURL, req.Date, page)
		if page > 1 {
			if err := c.pace.wait(ctx); err != nil {
				return err
			}
			snap, err = session.Load(ctx, pageURL, registryNextLoad)
			c.pace.record(err)
			if err != nil {
				c.logger.Warn("Failed to load list page", "page", page, "error", err)
				continue
			}
		}

		items, err := parser.ParseRegistryList(snap.HTML, pageURL)
		if err != nil {
			c.logger.Warn("Failed to parse list page", "page", page, "error", err)
			continue
		}

		added := 0
		for _, item := range items {
			if out.Done() {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			business := item.Business
			if c.details && item.DetailURL != "" {
				c.enrich(ctx, session, &business, item.DetailURL)
			}
			if out.Offer(business) {
				added++
			}
		}
		c.logger.Info("Processed list page", "page", page, "pages", pages, "items", len(items), "added", added)
	}

	return nil
}

func (c *RegistryConnector) enrich(ctx context.Context, session Session, business *models.Business, detailURL string) {
	if err := c.pace.wait(ctx); err != nil {
		return
	}
	snap, err := session.Load(ctx, detailURL, registryDetailLoad)
	c.pace.record(err)
	if err != nil {
		c.logger.Debug("Failed to load detail page", "url", detailURL, "error", err)
		return
	}
	parser.MergeRegistryDetail(business, parser.ParseRegistryDetail(c.fields, snap.Text))
}
