package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Snapshot is the state of a page after it was loaded.
type Snapshot struct {
	HTML string
	Text string
	URL  string
}

// LoadOptions control when a page counts as ready.
type LoadOptions struct {
	// ReadySelector is waited for after DOMContentLoaded when set.
	ReadySelector string
	// NetworkIdle additionally waits for the network to go quiet.
	NetworkIdle bool
	// ReadyTimeout bounds each readiness wait. Timing out is not an error.
	ReadyTimeout time.Duration
	// Timeout bounds navigation. Zero uses the browser default.
	Timeout time.Duration
	// Settle overrides the browser settle delay when positive.
	Settle time.Duration
}

// Load fetches url on a fresh tab that is always closed before returning.
func (b *Browser) Load(ctx context.Context, url string, opts LoadOptions) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := page.Close(); err != nil {
			b.logger.Debug("Failed to close page", "url", url, "error", err)
		}
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.opts.Timeout
	}

	start := time.Now()
	if err := b.navigate(ctx, page, url, timeout); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}

	b.waitReady(page, opts)

	settle := b.opts.SettleDelay
	if opts.Settle > 0 {
		settle = opts.Settle
	}
	if err := sleep(ctx, settle); err != nil {
		return nil, err
	}

	snap, err := takeSnapshot(page)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("Page loaded",
		"url", url,
		"final_url", snap.URL,
		"html_bytes", len(snap.HTML),
		"duration", time.Since(start))

	return snap, nil
}

// waitReady applies the readiness conditions best effort.
func (b *Browser) waitReady(page playwright.Page, opts LoadOptions) {
	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 15 * time.Second
	}

	if opts.NetworkIdle {
		if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateNetworkidle,
			Timeout: playwright.Float(float64(readyTimeout.Milliseconds())),
		}); err != nil {
			b.logger.Warn("Network did not become idle", "url", page.URL(), "error", err)
		}
	}

	if !isBlank(opts.ReadySelector) {
		if _, err := page.WaitForSelector(opts.ReadySelector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(readyTimeout.Milliseconds())),
		}); err != nil {
			b.logger.Warn("Readiness selector not found", "selector", opts.ReadySelector, "url", page.URL())
		}
	}
}

func takeSnapshot(page playwright.Page) (*Snapshot, error) {
	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", err)
	}

	text, err := page.InnerText("body")
	if err != nil {
		text = ""
	}

	return &Snapshot{
		HTML: html,
		Text: text,
		URL:  page.URL(),
	}, nil
}
