package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidDate = errors.New("date must be formatted as YYYY-MM-DD")

type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Request describes one pipeline invocation.
type Request struct {
	Source     SourceTag `json:"source"`
	Keyword    string    `json:"keyword,omitempty"`
	Location   string    `json:"location,omitempty"`
	Date       time.Time `json:"date,omitempty"`
	MaxResults int       `json:"max_results"`
	MaxPages   int       `json:"max_pages,omitempty"` // 0 means no page cap
}

// Query joins keyword and location the way the sources expect it.
func (r Request) Query() string {
	return strings.TrimSpace(strings.TrimSpace(r.Keyword) + " " + strings.TrimSpace(r.Location))
}

// Label is the human readable keyword stored with the run.
func (r Request) Label() string {
	if r.Source == SourceRegistry {
		return fmt.Sprintf("HSCTVN - %s", r.Date.Format(time.DateOnly))
	}
	return r.Keyword
}

func (r Request) Validate() error {
	if !r.Source.Valid() {
		return fmt.Errorf("unknown source %q", r.Source)
	}
	if r.MaxResults < 1 {
		return fmt.Errorf("max_results must be at least 1")
	}
	if r.MaxPages < 0 {
		return fmt.Errorf("max_pages cannot be negative")
	}
	if r.Source == SourceRegistry {
		if r.Date.IsZero() {
			return ErrInvalidDate
		}
		return nil
	}
	if strings.TrimSpace(r.Keyword) == "" {
		return fmt.Errorf("keyword is required")
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD registry date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// Run is the persisted record of one invocation.
type Run struct {
	ID           string    `json:"id"`
	Keyword      string    `json:"keyword"`
	Location     string    `json:"location,omitempty"`
	Source       SourceTag `json:"source"`
	Status       RunStatus `json:"status"`
	TotalResults int       `json:"total_results"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunResult is the only value handed back to callers of the pipeline.
type RunResult struct {
	RunID   string     `json:"run_id"`
	Source  SourceTag  `json:"source"`
	Status  RunStatus  `json:"status"`
	Total   int        `json:"total_results"`
	Reason  string     `json:"reason,omitempty"`
	Records []Business `json:"records"`
}

func (r RunResult) Failed() bool {
	return r.Status == RunFailed
}
