package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/business-contact-scraper/internal/database"
	"github.com/maltedev/business-contact-scraper/internal/models"
)

type EventType string

const (
	EventTypeRunCompleted EventType = "RUN_COMPLETED"
	EventTypeRunFailed    EventType = "RUN_FAILED"
)

// RunFinishedPayload is the body of run events on the stream.
type RunFinishedPayload struct {
	EventID      string           `json:"event_id"`
	EventType    string           `json:"event_type"`
	Timestamp    time.Time        `json:"timestamp"`
	RunID        string           `json:"run_id"`
	Source       models.SourceTag `json:"source"`
	Status       models.RunStatus `json:"status"`
	TotalResults int              `json:"total_results"`
	Reason       string           `json:"reason,omitempty"`
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes run events to the transactional outbox. The relay
// delivers them to Redis.
type Publisher struct {
	db     transactor
	outbox outboxWriter
	stream string
	logger *slog.Logger
}

// NewPublisher writes to stream, or to database.RunEventStream when stream
// is empty.
func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewOutboxRepository(db), stream, logger)
}

func newPublisher(db transactor, outbox outboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.RunEventStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		db:     db,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// RunFinished records a RUN_COMPLETED or RUN_FAILED event for a terminal run.
func (p *Publisher) RunFinished(ctx context.Context, result *models.RunResult) error {
	if !result.Status.Terminal() {
		return fmt.Errorf("run %s is not finished: %s", result.RunID, result.Status)
	}

	payload := RunFinishedPayload{
		EventID:      uuid.New().String(),
		EventType:    string(EventTypeRunCompleted),
		Timestamp:    time.Now(),
		RunID:        result.RunID,
		Source:       result.Source,
		Status:       result.Status,
		TotalResults: result.Total,
		Reason:       result.Reason,
	}
	if result.Failed() {
		payload.EventType = string(EventTypeRunFailed)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: "run",
		AggregateID:   result.RunID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("Event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"run_id", result.RunID,
		"outbox_id", event.ID)
	return nil
}
