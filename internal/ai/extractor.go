package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/parser"
)

var (
	// ErrNoData means the model answered but produced no usable record.
	ErrNoData = errors.New("no business data extracted")
	// ErrNotConfigured is returned by every call when no credential is set.
	ErrNotConfigured = errors.New("AI extraction is not configured")
)

const (
	singleTextLimit = 10000
	multiTextLimit  = 15000
)

// Extractor turns page text into candidate records using a generative model.
type Extractor interface {
	ExtractOne(ctx context.Context, text, url string) (*models.Business, error)
	ExtractMany(ctx context.Context, text, url string) ([]models.Business, error)
}

// Generator sends one prompt and returns the raw response text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Adapter implements Extractor on top of any Generator.
type Adapter struct {
	generator Generator
	timeout   time.Duration
	logger    *slog.Logger
}

func NewAdapter(generator Generator, timeout time.Duration, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		generator: generator,
		timeout:   timeout,
		logger:    logger.With("component", "ai_extractor"),
	}
}

// New returns a Gemini backed extractor, or Disabled when no API key is configured.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Disabled{}, nil
	}
	gen, err := NewGeminiGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	adapter := NewAdapter(gen, cfg.Timeout, logger)
	adapter.logger.Info("AI extractor enabled", "model", gen.Model())
	return adapter, nil
}

func (a *Adapter) ExtractOne(ctx context.Context, text, url string) (*models.Business, error) {
	records, err := a.extract(ctx, buildSinglePrompt(truncate(text, singleTextLimit), url), url)
	if err != nil {
		return nil, err
	}
	first := records[0]
	return &first, nil
}

func (a *Adapter) ExtractMany(ctx context.Context, text, url string) ([]models.Business, error) {
	return a.extract(ctx, buildMultiPrompt(truncate(text, multiTextLimit), url), url)
}

func (a *Adapter) extract(ctx context.Context, prompt, url string) ([]models.Business, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	records, err := ParseResponse(raw, url)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("AI extraction finished",
		"url", url,
		"records", len(records),
		"duration", time.Since(start))

	return records, nil
}

// aiBusiness mirrors the JSON object the prompts ask for.
type aiBusiness struct {
	Name        looseString `json:"name"`
	Phone       looseString `json:"phone"`
	Email       looseString `json:"email"`
	Address     looseString `json:"address"`
	Description looseString `json:"description"`
}

type aiEnvelope struct {
	Businesses []aiBusiness `json:"businesses"`
}

// looseString accepts strings, numbers and null.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(strings.TrimSpace(v))
		return nil
	}
	*s = looseString(strings.TrimSpace(string(data)))
	return nil
}

// ParseResponse decodes either a single object or a {"businesses": [...]}
// envelope. Objects without a phone and an email are dropped. Every record
// is stamped with the page URL and the search source tag.
func ParseResponse(raw, url string) ([]models.Business, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, ErrNoData
	}

	var items []aiBusiness
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON array: %v", ErrNoData, err)
		}
		return stamp(items, url)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrNoData, err)
	}

	if _, ok := probe["businesses"]; ok {
		var env aiEnvelope
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			return nil, fmt.Errorf("%w: invalid businesses list: %v", ErrNoData, err)
		}
		items = env.Businesses
	} else {
		var single aiBusiness
		if err := json.Unmarshal([]byte(body), &single); err != nil {
			return nil, fmt.Errorf("%w: invalid business object: %v", ErrNoData, err)
		}
		items = []aiBusiness{single}
	}

	return stamp(items, url)
}

func stamp(items []aiBusiness, url string) ([]models.Business, error) {
	var records []models.Business
	for _, item := range items {
		phone := parser.NormalizePhone(string(item.Phone))
		email := string(item.Email)
		if phone == "" && email == "" {
			continue
		}
		records = append(records, models.Business{
			Name:        string(item.Name),
			Phone:       phone,
			Email:       email,
			Address:     string(item.Address),
			Description: string(item.Description),
			Website:     url,
			Source:      models.SourceSearch,
		})
	}

	if len(records) == 0 {
		return nil, ErrNoData
	}
	return records, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}

// Disabled is used when no model credential is configured.
type Disabled struct{}

func (Disabled) ExtractOne(context.Context, string, string) (*models.Business, error) {
	return nil, ErrNotConfigured
}

func (Disabled) ExtractMany(context.Context, string, string) ([]models.Business, error) {
	return nil, ErrNotConfigured
}
