package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrFeedNotFound is returned when the results feed never appears.
var ErrFeedNotFound = errors.New("results feed not found")

const (
	feedSelector      = `div[role="feed"]`
	tileSelector      = `div.Nv2PK`
	tileLinkSelector  = `a.hfpxzc`
	sponsoredSelector = `.jHLihd`
	detailSelector    = `h1.DUwDvf`
	feedScrollPixels  = 1500
)

// Tile is one entry of the results feed.
type Tile struct {
	Label     string
	Sponsored bool
}

// Feed is a live results list whose tiles open a detail panel when clicked.
type Feed interface {
	Tiles() ([]Tile, error)
	Open(ctx context.Context, index int) (*Snapshot, error)
	Scroll(ctx context.Context) error
	Close() error
}

type liveFeed struct {
	b    *Browser
	page playwright.Page
}

// OpenFeed navigates to a listing URL and waits for its results feed. The
// returned Feed owns its tab and must be closed.
func (b *Browser) OpenFeed(ctx context.Context, url string) (Feed, error) {
	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}

	if err := b.navigate(ctx, page, url, b.opts.Timeout); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to open feed %s: %w", url, err)
	}

	if b.DismissConsent(page) {
		if err := sleep(ctx, b.opts.SettleDelay); err != nil {
			page.Close()
			return nil, err
		}
	}

	if _, err := page.WaitForSelector(feedSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(10000),
	}); err != nil {
		page.Close()
		return nil, ErrFeedNotFound
	}

	feed := &liveFeed{b: b, page: page}
	if err := feed.Scroll(ctx); err != nil {
		feed.Close()
		return nil, err
	}

	return feed, nil
}

// items re-queries the tile elements. Each entry is the locator of the
// tile's link plus the tile itself when present.
func (f *liveFeed) items() ([][2]playwright.Locator, error) {
	tiles, err := f.page.Locator(tileSelector).All()
	if err != nil {
		return nil, fmt.Errorf("failed to query tiles: %w", err)
	}

	items := make([][2]playwright.Locator, 0, len(tiles))
	for _, tile := range tiles {
		items = append(items, [2]playwright.Locator{tile.Locator(tileLinkSelector).First(), tile})
	}
	if len(items) > 0 {
		return items, nil
	}

	links, err := f.page.Locator(tileLinkSelector).All()
	if err != nil {
		return nil, fmt.Errorf("failed to query tile links: %w", err)
	}
	for _, link := range links {
		items = append(items, [2]playwright.Locator{link, nil})
	}
	return items, nil
}

func (f *liveFeed) Tiles() ([]Tile, error) {
	items, err := f.items()
	if err != nil {
		return nil, err
	}

	tiles := make([]Tile, 0, len(items))
	for _, item := range items {
		link, container := item[0], item[1]

		label, _ := link.GetAttribute("aria-label")
		tile := Tile{Label: label}
		if container != nil {
			if n, err := container.Locator(sponsoredSelector).Count(); err == nil && n > 0 {
				tile.Sponsored = true
			}
		}
		tiles = append(tiles, tile)
	}
	return tiles, nil
}

func (f *liveFeed) Open(ctx context.Context, index int) (*Snapshot, error) {
	items, err := f.items()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(items) {
		return nil, fmt.Errorf("tile %d out of range (%d tiles)", index, len(items))
	}
	link := items[index][0]

	if err := link.ScrollIntoViewIfNeeded(); err != nil {
		f.b.logger.Debug("Failed to scroll tile into view", "index", index, "error", err)
	}
	if err := sleep(ctx, 500*time.Millisecond); err != nil {
		return nil, err
	}
	if err := link.Click(); err != nil {
		return nil, fmt.Errorf("failed to click tile %d: %w", index, err)
	}

	if _, err := f.page.WaitForSelector(detailSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(5000),
	}); err != nil {
		f.b.logger.Debug("Detail heading not found", "index", index)
	}
	if err := sleep(ctx, f.b.opts.SettleDelay); err != nil {
		return nil, err
	}

	return takeSnapshot(f.page)
}

func (f *liveFeed) Scroll(ctx context.Context) error {
	if _, err := f.page.Evaluate(fmt.Sprintf(`() => {
		const feed = document.querySelector('%s');
		if (feed) { feed.scrollBy(0, %d); }
	}`, feedSelector, feedScrollPixels)); err != nil {
		f.b.logger.Debug("Feed scroll failed", "error", err)
	}
	return sleep(ctx, f.b.opts.SettleDelay)
}

func (f *liveFeed) Close() error {
	return f.page.Close()
}
