package scraper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maltedev/business-contact-scraper/internal/browser"
	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/ratelimit"
)

var ErrSessionUnavailable = errors.New("browser session unavailable")

// Fetcher loads a URL into a snapshot on an isolated tab.
type Fetcher interface {
	Load(ctx context.Context, url string, opts browser.LoadOptions) (*browser.Snapshot, error)
}

// FeedOpener opens a live results feed.
type FeedOpener interface {
	OpenFeed(ctx context.Context, url string) (browser.Feed, error)
}

// Session is the browsing capability owned by exactly one run.
type Session interface {
	Fetcher
	FeedOpener
	Close() error
}

// Collector receives candidates. Offer reports whether the candidate was
// accepted, Done reports that the run's cap is reached.
type Collector interface {
	Offer(b models.Business) bool
	Done() bool
}

// Connector turns a request into candidate records for one source.
type Connector interface {
	Source() models.SourceTag
	Run(ctx context.Context, session Session, req models.Request, out Collector) error
}

// pacer wraps the shared rate limiter with outcome feedback.
type pacer struct {
	limiter ratelimit.RateLimiter
}

func newPacer(limiter ratelimit.RateLimiter) pacer {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return pacer{limiter: limiter}
}

func (p pacer) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func (p pacer) record(err error) {
	fb, ok := p.limiter.(ratelimit.Feedback)
	if !ok {
		return
	}
	if err != nil {
		fb.RecordError()
		return
	}
	fb.RecordSuccess()
}

func componentLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}
