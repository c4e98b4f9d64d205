package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maltedev/business-contact-scraper/internal/database"
	"github.com/maltedev/business-contact-scraper/internal/storage"
)

type RunLoader interface {
	GetRun(ctx context.Context, id string) (*database.RunDetail, error)
}

// NewRunExporter returns a Handler that writes every completed run with its
// businesses to <dir>/<run_id>.json. Failed runs are only logged.
func NewRunExporter(loader RunLoader, dir string, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "run_exporter")

	return func(ctx context.Context, event RunFinishedPayload) error {
		if event.EventType == string(EventTypeRunFailed) {
			logger.Warn("Run failed", "run_id", event.RunID, "source", event.Source, "reason", event.Reason)
			return nil
		}

		detail, err := loader.GetRun(ctx, event.RunID)
		if errors.Is(err, database.ErrNotFound) {
			// deleted before the event arrived
			logger.Warn("Run no longer exists", "run_id", event.RunID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", event.RunID, err)
		}

		path := filepath.Join(dir, event.RunID+".json")
		if err := storage.WriteJSON(path, detail); err != nil {
			return fmt.Errorf("failed to export run %s: %w", event.RunID, err)
		}

		logger.Info("Run exported", "run_id", event.RunID, "businesses", len(detail.Businesses), "file", path)
		return nil
	}
}
