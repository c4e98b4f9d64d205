package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/business-contact-scraper/internal/database"
	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeTransactor runs fn without a real transaction.
type fakeTransactor struct {
	calls int
}

func (f *fakeTransactor) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	f.calls++
	return fn(nil)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func TestPublisher_RunFinished(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		result     models.RunResult
		wantType   EventType
		wantReason string
	}{
		{
			name:     "completed run",
			result:   models.RunResult{RunID: "run-1", Source: models.SourceMap, Status: models.RunCompleted, Total: 17},
			wantType: EventTypeRunCompleted,
		},
		{
			name:       "failed run",
			result:     models.RunResult{RunID: "run-2", Source: models.SourceRegistry, Status: models.RunFailed, Reason: "failed to start browser session"},
			wantType:   EventTypeRunFailed,
			wantReason: "failed to start browser session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &fakeTransactor{}
			outbox := new(MockOutboxRepository)
			publisher := newPublisher(tx, outbox, database.RunEventStream, nil)

			var captured *database.OutboxEvent
			outbox.On("InsertWithTx", ctx, mock.Anything, mock.AnythingOfType("*database.OutboxEvent")).
				Run(func(args mock.Arguments) {
					captured = args.Get(2).(*database.OutboxEvent)
				}).
				Return(nil)

			require.NoError(t, publisher.RunFinished(ctx, &tt.result))
			assert.Equal(t, 1, tx.calls)
			require.NotNil(t, captured)

			assert.Equal(t, "run", captured.AggregateType)
			assert.Equal(t, tt.result.RunID, captured.AggregateID)
			assert.Equal(t, string(tt.wantType), captured.EventType)
			assert.Equal(t, database.RunEventStream, captured.TargetStream)

			var payload RunFinishedPayload
			require.NoError(t, json.Unmarshal(captured.Payload, &payload))
			assert.NotEmpty(t, payload.EventID)
			assert.Equal(t, tt.result.Status, payload.Status)
			assert.Equal(t, tt.result.Total, payload.TotalResults)
			assert.Equal(t, tt.wantReason, payload.Reason)
		})
	}
}

func TestPublisher_RejectsUnfinishedRun(t *testing.T) {
	outbox := new(MockOutboxRepository)
	publisher := newPublisher(&fakeTransactor{}, outbox, database.RunEventStream, nil)

	err := publisher.RunFinished(context.Background(), &models.RunResult{RunID: "run-3", Status: models.RunProcessing})

	assert.Error(t, err)
	outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublisher_OutboxFailure(t *testing.T) {
	ctx := context.Background()
	outbox := new(MockOutboxRepository)
	outbox.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(errors.New("relation does not exist"))
	publisher := newPublisher(&fakeTransactor{}, outbox, database.RunEventStream, nil)

	err := publisher.RunFinished(ctx, &models.RunResult{RunID: "run-4", Status: models.RunCompleted})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish event")
}
