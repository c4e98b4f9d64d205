package scraper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maltedev/business-contact-scraper/internal/browser"
	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/parser"
	"github.com/maltedev/business-contact-scraper/internal/ratelimit"
)

const scrollEvery = 5

// ListingConnector opens result tiles of the map listing one by one and
// reads the detail panel each tile opens.
type ListingConnector struct {
	maxResults int
	pace       pacer
	logger     *slog.Logger
}

// NewListingConnector creates the connector. maxResults caps every request
// when positive.
func NewListingConnector(maxResults int, limiter ratelimit.RateLimiter, logger *slog.Logger) *ListingConnector {
	return &ListingConnector{
		maxResults: maxResults,
		pace:       newPacer(limiter),
		logger:     componentLogger(logger, "listing_connector"),
	}
}

func (c *ListingConnector) Source() models.SourceTag {
	return models.SourceMap
}

func (c *ListingConnector) Run(ctx context.Context, session Session, req models.Request, out Collector) error {
	max := req.MaxResults
	if c.maxResults > 0 && max > c.maxResults {
		max = c.maxResults
	}
	url := parser.MapSearchURL(req.Query())
	c.logger.Info("Starting listing search", "query", req.Query(), "url", url, "max_results", max)

	if err := c.pace.wait(ctx); err != nil {
		return err
	}
	feed, err := session.OpenFeed(ctx, url)
	if err != nil {
		if errors.Is(err, browser.ErrFeedNotFound) {
			c.logger.Warn("Results feed not found", "url", url)
		} else {
			c.logger.Error("Failed to open listing", "url", url, "error", err)
		}
		c.pace.record(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return nil
	}
	defer func() {
		if err := feed.Close(); err != nil {
			c.logger.Debug("Failed to close feed", "error", err)
		}
	}()

	limit := max * 2
	accepted := 0
	for index := 0; index < limit && accepted < max && !out.Done(); index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tiles, err := c.tilesWithIndex(ctx, feed, index)
		if err != nil {
			c.logger.Error("Failed to read tiles", "error", err)
			break
		}
		if index >= len(tiles) {
			c.logger.Info("No more tiles in feed", "seen", index)
			break
		}

		if c.processTile(ctx, feed, index, tiles[index], out) {
			accepted++
		}

		if (index+1)%scrollEvery == 0 && accepted < max && !out.Done() {
			if err := feed.Scroll(ctx); err != nil {
				return err
			}
		}
	}

	c.logger.Info("Listing search finished", "accepted", accepted)
	return nil
}

// tilesWithIndex returns the current tiles, scrolling once more when the
// requested index is not loaded yet.
func (c *ListingConnector) tilesWithIndex(ctx context.Context, feed browser.Feed, index int) ([]browser.Tile, error) {
	tiles, err := feed.Tiles()
	if err != nil || index < len(tiles) {
		return tiles, err
	}
	if err := feed.Scroll(ctx); err != nil {
		return nil, err
	}
	return feed.Tiles()
}

func (c *ListingConnector) processTile(ctx context.Context, feed browser.Feed, index int, tile browser.Tile, out Collector) bool {
	switch {
	case tile.Label == "":
		return false
	case tile.Sponsored:
		c.logger.Debug("Skipping sponsored tile", "label", tile.Label)
		return false
	case models.IsPlaceholderName(tile.Label):
		return false
	}

	if err := c.pace.wait(ctx); err != nil {
		return false
	}

	c.logger.Info("Opening tile", "index", index+1, "label", tile.Label)
	snap, err := feed.Open(ctx, index)
	c.pace.record(err)
	if err != nil {
		c.logger.Warn("Failed to open tile", "index", index+1, "error", err)
		return false
	}

	business, err := parser.ParseMapDetail(snap.HTML, snap.URL)
	if err != nil {
		c.logger.Warn("Failed to read detail panel", "index", index+1, "error", err)
		return false
	}

	if !out.Offer(*business) {
		c.logger.Debug("Candidate not admitted", "name", business.Name)
		return false
	}
	c.logger.Info("Added business", "name", business.Name)
	return true
}
