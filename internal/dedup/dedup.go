package dedup

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/parser"
)

// minNameKeyLength is the name length above which names take part in
// duplicate detection.
const minNameKeyLength = 10

// Deduplicator is the single uniqueness authority for one run. It is not
// safe for concurrent use and must not be shared between runs.
type Deduplicator struct {
	phones  map[string]struct{}
	names   map[string]struct{}
	records []models.Business
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		phones: make(map[string]struct{}),
		names:  make(map[string]struct{}),
		logger: logger.With("component", "dedup"),
	}
}

// Admit validates a candidate and accepts it unless its phone or long name
// was seen before in this run.
func (d *Deduplicator) Admit(b models.Business) bool {
	b.Name = strings.TrimSpace(b.Name)
	if b.Phone != "" {
		b.Phone = parser.NormalizePhone(b.Phone)
	}

	if problems := b.Validate(); len(problems) > 0 {
		d.logger.Debug("Rejected invalid candidate", "name", b.Name, "problems", problems)
		return false
	}

	phoneKey := b.Phone
	nameKey := nameKey(b.Name)

	if phoneKey != "" {
		if _, seen := d.phones[phoneKey]; seen {
			d.logger.Debug("Skipped duplicate phone", "phone", phoneKey)
			return false
		}
	}
	if nameKey != "" {
		if _, seen := d.names[nameKey]; seen {
			d.logger.Debug("Skipped duplicate name", "name", b.Name)
			return false
		}
	}

	if phoneKey != "" {
		d.phones[phoneKey] = struct{}{}
	}
	if nameKey != "" {
		d.names[nameKey] = struct{}{}
	}
	d.records = append(d.records, b)
	return true
}

func nameKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if utf8.RuneCountInString(key) <= minNameKeyLength {
		return ""
	}
	return key
}

// Records returns the accepted records in admission order.
func (d *Deduplicator) Records() []models.Business {
	out := make([]models.Business, len(d.records))
	copy(out, d.records)
	return out
}

func (d *Deduplicator) Len() int {
	return len(d.records)
}

// Aggregator enforces a run's result cap on top of a Deduplicator.
type Aggregator struct {
	*Deduplicator
	max int
}

// NewAggregator creates an aggregator. max <= 0 means no cap.
func NewAggregator(max int, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		Deduplicator: New(logger),
		max:          max,
	}
}

// Offer admits b unless the cap was already reached.
func (a *Aggregator) Offer(b models.Business) bool {
	if a.Done() {
		return false
	}
	return a.Admit(b)
}

func (a *Aggregator) Done() bool {
	return a.max > 0 && a.Len() >= a.max
}
