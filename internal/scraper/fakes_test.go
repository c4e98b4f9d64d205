package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/maltedev/business-contact-scraper/internal/browser"
	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/stretchr/testify/mock"
)

// fakeSession serves canned snapshots by URL.
type fakeSession struct {
	mu      sync.Mutex
	pages   map[string]string
	texts   map[string]string
	loads   []string
	feed    *fakeFeed
	feedErr error
	closed  bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		pages: make(map[string]string),
		texts: make(map[string]string),
	}
}

func (s *fakeSession) Load(ctx context.Context, url string, _ browser.LoadOptions) (*browser.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loads = append(s.loads, url)
	html, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("navigation to %s timed out", url)
	}
	return &browser.Snapshot{HTML: html, Text: s.texts[url], URL: url}, nil
}

func (s *fakeSession) OpenFeed(ctx context.Context, url string) (browser.Feed, error) {
	if s.feedErr != nil {
		return nil, s.feedErr
	}
	if s.feed == nil {
		return nil, browser.ErrFeedNotFound
	}
	s.feed.url = url
	return s.feed, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSession) loadsMatching(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, l := range s.loads {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

// fakeFeed exposes a fixed tile list; visible grows by one batch per scroll.
type fakeFeed struct {
	url      string
	tiles    []browser.Tile
	details  map[int]string
	visible  int
	batch    int
	opened   []int
	scrolls  int
	closed   bool
	openErrs map[int]error
}

func (f *fakeFeed) Tiles() ([]browser.Tile, error) {
	n := f.visible
	if n > len(f.tiles) {
		n = len(f.tiles)
	}
	return f.tiles[:n], nil
}

func (f *fakeFeed) Open(ctx context.Context, index int) (*browser.Snapshot, error) {
	f.opened = append(f.opened, index)
	if err := f.openErrs[index]; err != nil {
		return nil, err
	}
	html, ok := f.details[index]
	if !ok {
		return nil, errors.New("click intercepted")
	}
	return &browser.Snapshot{HTML: html, URL: fmt.Sprintf("https://www.google.com/maps/place/x/@21.0%d,105.8%d,17z", index, index)}, nil
}

func (f *fakeFeed) Scroll(ctx context.Context) error {
	f.scrolls++
	f.visible += f.batch
	return nil
}

func (f *fakeFeed) Close() error {
	f.closed = true
	return nil
}

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) ExtractOne(ctx context.Context, text, url string) (*models.Business, error) {
	args := m.Called(ctx, text, url)
	if b, ok := args.Get(0).(*models.Business); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockExtractor) ExtractMany(ctx context.Context, text, url string) ([]models.Business, error) {
	args := m.Called(ctx, text, url)
	if b, ok := args.Get(0).([]models.Business); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}
