package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maltedev/business-contact-scraper/internal/models"
)

// RunRecord is one run with the records it produced.
type RunRecord struct {
	Run        models.Run        `json:"run"`
	Businesses []models.Business `json:"businesses"`
}

// RunStorage keeps runs in a single JSON file. Every status change rewrites
// the file through a temporary file and a rename.
type RunStorage struct {
	mu       sync.RWMutex
	runs     map[string]*RunRecord
	filename string
}

func NewRunStorage(filename string) (*RunStorage, error) {
	rs := &RunStorage{
		runs:     make(map[string]*RunRecord),
		filename: filename,
	}

	if err := rs.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return rs, nil
}

func (rs *RunStorage) CreateRun(_ context.Context, run *models.Run) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	rs.runs[run.ID] = &RunRecord{Run: *run, Businesses: []models.Business{}}
	return rs.save()
}

func (rs *RunStorage) MarkProcessing(_ context.Context, runID string) error {
	return rs.update(runID, func(r *RunRecord) {
		r.Run.Status = models.RunProcessing
	})
}

// SaveBusiness appends a record in memory; it is written with the next
// status change.
func (rs *RunStorage) SaveBusiness(_ context.Context, runID string, b models.Business) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	record, ok := rs.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	record.Businesses = append(record.Businesses, b)
	return nil
}

func (rs *RunStorage) CompleteRun(_ context.Context, runID string, total int) error {
	return rs.update(runID, func(r *RunRecord) {
		r.Run.Status = models.RunCompleted
		r.Run.TotalResults = total
		r.Run.ErrorMessage = ""
	})
}

func (rs *RunStorage) FailRun(_ context.Context, runID, reason string) error {
	return rs.update(runID, func(r *RunRecord) {
		r.Run.Status = models.RunFailed
		r.Run.TotalResults = 0
		r.Run.ErrorMessage = reason
	})
}

func (rs *RunStorage) Get(runID string) (*RunRecord, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	record, ok := rs.runs[runID]
	if !ok {
		return nil, false
	}
	cp := *record
	cp.Businesses = append([]models.Business(nil), record.Businesses...)
	return &cp, true
}

// Stats counts runs per status.
func (rs *RunStorage) Stats() map[string]int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	stats := make(map[string]int)
	for _, r := range rs.runs {
		stats[string(r.Run.Status)]++
	}
	stats["total"] = len(rs.runs)
	return stats
}

func (rs *RunStorage) update(runID string, fn func(*RunRecord)) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	record, ok := rs.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	fn(record)
	return rs.save()
}

func (rs *RunStorage) save() error {
	return WriteJSON(rs.filename, rs.runs)
}

// WriteJSON writes v as indented JSON through a temporary file and a rename,
// creating the parent directory when needed.
func WriteJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	tmpFile := filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, filename)
}

func (rs *RunStorage) Load() error {
	data, err := os.ReadFile(rs.filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &rs.runs)
}
