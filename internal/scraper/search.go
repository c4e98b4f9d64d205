package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maltedev/business-contact-scraper/internal/ai"
	"github.com/maltedev/business-contact-scraper/internal/browser"
	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/parser"
	"github.com/maltedev/business-contact-scraper/internal/ratelimit"
)

var (
	searchPageLoad = browser.LoadOptions{
		ReadySelector: `article[data-testid="result"]`,
		NetworkIdle:   true,
		ReadyTimeout:  15 * time.Second,
		Settle:        3 * time.Second,
	}
	resultPageLoad = browser.LoadOptions{
		Timeout: 15 * time.Second,
		Settle:  2 * time.Second,
	}
)

// SearchConnector queries the search engine, follows every result URL and
// extracts contacts from each page. Extraction tries the AI listing mode,
// then the AI single mode, then the deterministic field extractor.
type SearchConnector struct {
	maxResults int
	fields     parser.FieldExtractor
	extractor  ai.Extractor
	pace       pacer
	logger     *slog.Logger
}

// NewSearchConnector creates the connector. maxResults caps every request
// when positive; fields defaults to a ContactParser.
func NewSearchConnector(maxResults int, fields parser.FieldExtractor, extractor ai.Extractor, limiter ratelimit.RateLimiter, logger *slog.Logger) *SearchConnector {
	if fields == nil {
		fields = parser.NewContactParser()
	}
	if extractor == nil {
		extractor = ai.Disabled{}
	}
	return &SearchConnector{
		maxResults: maxResults,
		fields:     fields,
		extractor:  extractor,
		pace:       newPacer(limiter),
		logger:     componentLogger(logger, "search_connector"),
	}
}

func (c *SearchConnector) Source() models.SourceTag {
	return models.SourceSearch
}

func (c *SearchConnector) Run(ctx context.Context, session Session, req models.Request, out Collector) error {
	max := req.MaxResults
	if c.maxResults > 0 && max > c.maxResults {
		max = c.maxResults
	}
	searchURL := parser.SearchURL(req.Query())
	c.logger.Info("Starting web search", "query", req.Query(), "url", searchURL, "max_results", max)

	if err := c.pace.wait(ctx); err != nil {
		return err
	}
	snap, err := session.Load(ctx, searchURL, searchPageLoad)
	c.pace.record(err)
	if err != nil {
		c.logger.Error("Failed to load search page", "url", searchURL, "error", err)
		return ctx.Err()
	}

	results, err := parser.ParseSearchResults(snap.HTML, max)
	if err != nil {
		c.logger.Error("Failed to parse search results", "error", err)
		return nil
	}
	c.logger.Info("Found result URLs", "count", len(results))

	accepted := 0
	for i, result := range results {
		if accepted >= max || out.Done() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		c.logger.Info("Scraping result", "index", i+1, "total", len(results), "url", result.URL)
		if err := c.pace.wait(ctx); err != nil {
			return err
		}
		page, err := session.Load(ctx, result.URL, resultPageLoad)
		c.pace.record(err)
		if err != nil {
			c.logger.Warn("Failed to load result page", "url", result.URL, "error", err)
			continue
		}

		candidates := c.extract(ctx, page, result)
		added := 0
		for _, candidate := range candidates {
			if accepted >= max || out.Done() {
				break
			}
			if out.Offer(candidate) {
				added++
				accepted++
			}
		}
		c.logger.Info("Extracted businesses from page",
			"url", result.URL,
			"candidates", len(candidates),
			"added", added)
	}

	return nil
}

func (c *SearchConnector) extract(ctx context.Context, page *browser.Snapshot, result parser.SearchResult) []models.Business {
	text := page.Text
	if text == "" {
		text = page.HTML
	}

	records, err := c.extractor.ExtractMany(ctx, text, result.URL)
	switch {
	case err == nil && len(records) > 0:
		return withFallbackNames(records, result)
	case errors.Is(err, ai.ErrNotConfigured):
		return parser.BuildSearchCandidates(c.fields, page.HTML, result)
	case err != nil && !errors.Is(err, ai.ErrNoData):
		c.logger.Warn("AI listing extraction failed", "url", result.URL, "error", err)
	}

	one, err := c.extractor.ExtractOne(ctx, text, result.URL)
	if err == nil && one != nil {
		return withFallbackNames([]models.Business{*one}, result)
	}
	if err != nil && !errors.Is(err, ai.ErrNoData) {
		c.logger.Warn("AI extraction failed", "url", result.URL, "error", err)
	}

	return parser.BuildSearchCandidates(c.fields, page.HTML, result)
}

// withFallbackNames fills missing names and descriptions from the search result.
func withFallbackNames(records []models.Business, result parser.SearchResult) []models.Business {
	for i := range records {
		if records[i].Name == "" {
			records[i].Name = result.Title
		}
		if records[i].Description == "" {
			records[i].Description = result.Snippet
		}
	}
	return records
}
