package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if err := m.Called(ctx, stream, group, start).Error(0); err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if streams, ok := args.Get(0).([]redis.XStream); ok {
		cmd.SetVal(streams)
	}
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if err := m.Called(ctx, stream, group, ids).Error(0); err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

func runMessage(t *testing.T, id string, eventType EventType, runID string) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":   "outbox-" + id,
		"type": string(eventType),
		"payload": RunFinishedPayload{
			EventType:    string(eventType),
			RunID:        runID,
			TotalResults: 4,
		},
	})
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]any{
		"event_type": string(eventType),
		"data":       string(data),
	}}
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     redis.XMessage
		wantRun string
		wantErr bool
		skip    bool
	}{
		{
			name:    "completed run",
			msg:     runMessage(t, "1-0", EventTypeRunCompleted, "run-1"),
			wantRun: "run-1",
		},
		{
			name:    "failed run",
			msg:     runMessage(t, "2-0", EventTypeRunFailed, "run-2"),
			wantRun: "run-2",
		},
		{
			name: "other event type",
			msg:  redis.XMessage{ID: "3-0", Values: map[string]any{"event_type": "PRODUCT_CREATED"}},
			skip: true,
		},
		{
			name:    "missing data",
			msg:     redis.XMessage{ID: "4-0", Values: map[string]any{"event_type": "RUN_COMPLETED"}},
			wantErr: true,
		},
		{
			name:    "broken json",
			msg:     redis.XMessage{ID: "5-0", Values: map[string]any{"event_type": "RUN_FAILED", "data": "{"}},
			wantErr: true,
		},
		{
			name:    "no run id",
			msg:     runMessage(t, "6-0", EventTypeRunCompleted, ""),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := decodeMessage(tt.msg)
			switch {
			case tt.skip:
				assert.ErrorIs(t, err, errSkip)
			case tt.wantErr:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, errSkip)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantRun, event.RunID)
				assert.Equal(t, 4, event.TotalResults)
			}
		})
	}
}

func TestConsumer_Poll(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)

	streams := []redis.XStream{{
		Stream: "stream:business_runs",
		Messages: []redis.XMessage{
			runMessage(t, "1-0", EventTypeRunCompleted, "run-ok"),
			runMessage(t, "2-0", EventTypeRunCompleted, "run-retry"),
			{ID: "3-0", Values: map[string]any{"event_type": "SOMETHING_ELSE"}},
		},
	}}
	client.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
		return a.Group == "exporters" && a.Consumer == "exporter-1" && a.Streams[1] == ">"
	})).Return(streams, nil).Once()
	client.On("XAck", ctx, "stream:business_runs", "exporters", []string{"1-0"}).Return(nil).Once()
	client.On("XAck", ctx, "stream:business_runs", "exporters", []string{"3-0"}).Return(nil).Once()

	var handled []string
	handler := func(_ context.Context, event RunFinishedPayload) error {
		handled = append(handled, event.RunID)
		if event.RunID == "run-retry" {
			return errors.New("database unavailable")
		}
		return nil
	}

	consumer := NewConsumer(client, handler, nil, ConsumerConfig{Group: "exporters", Name: "exporter-1"})
	require.NoError(t, consumer.poll(ctx))

	assert.Equal(t, []string{"run-ok", "run-retry"}, handled)
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "XAck", ctx, "stream:business_runs", "exporters", []string{"2-0"})
}

func TestConsumer_PollTimeout(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	client.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil).Once()

	consumer := NewConsumer(client, func(context.Context, RunFinishedPayload) error {
		t.Fatal("handler must not be called")
		return nil
	}, nil, ConsumerConfig{})

	assert.NoError(t, consumer.poll(ctx))
}

func newReads() any {
	return mock.MatchedBy(func(a *redis.XReadGroupArgs) bool { return a.Streams[1] == ">" })
}

func pendingReads(start string) any {
	return mock.MatchedBy(func(a *redis.XReadGroupArgs) bool { return a.Streams[1] == start && a.Block < 0 })
}

func TestConsumer_RecoverPending(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)

	client.On("XReadGroup", ctx, pendingReads("0")).Return([]redis.XStream{{
		Stream: "stream:business_runs",
		Messages: []redis.XMessage{
			runMessage(t, "1-0", EventTypeRunCompleted, "run-still-failing"),
			runMessage(t, "2-0", EventTypeRunCompleted, "run-ok"),
		},
	}}, nil).Once()
	client.On("XReadGroup", ctx, pendingReads("2-0")).Return([]redis.XStream{{
		Stream:   "stream:business_runs",
		Messages: []redis.XMessage{{ID: "3-0"}},
	}}, nil).Once()
	client.On("XAck", ctx, "stream:business_runs", "run-consumer-group", []string{"2-0"}).Return(nil).Once()
	client.On("XAck", ctx, "stream:business_runs", "run-consumer-group", []string{"3-0"}).Return(nil).Once()

	var handled []string
	consumer := NewConsumer(client, func(_ context.Context, event RunFinishedPayload) error {
		handled = append(handled, event.RunID)
		if event.RunID == "run-still-failing" {
			return errors.New("database unavailable")
		}
		return nil
	}, nil, ConsumerConfig{Count: 2})

	require.NoError(t, consumer.recoverPending(ctx))

	assert.Equal(t, []string{"run-still-failing", "run-ok"}, handled)
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "XAck", ctx, "stream:business_runs", "run-consumer-group", []string{"1-0"})
}

func TestConsumer_Run(t *testing.T) {
	t.Run("existing group and cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", mock.Anything, "stream:business_runs", "run-consumer-group", "0").
			Return(errors.New("BUSYGROUP Consumer Group name already exists"))
		client.On("XReadGroup", mock.Anything, pendingReads("0")).Return(nil, redis.Nil).Once()
		client.On("XReadGroup", mock.Anything, newReads()).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, redis.Nil)

		consumer := NewConsumer(client, func(context.Context, RunFinishedPayload) error { return nil }, nil, ConsumerConfig{})

		err := consumer.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		client.AssertExpectations(t)
	})

	t.Run("group creation fails", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("connection refused"))

		consumer := NewConsumer(client, nil, nil, ConsumerConfig{})

		err := consumer.Run(context.Background())
		assert.ErrorContains(t, err, "failed to create consumer group")
	})

	t.Run("read errors pause and retry", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		client.On("XReadGroup", mock.Anything, pendingReads("0")).Return(nil, redis.Nil).Once()
		client.On("XReadGroup", mock.Anything, newReads()).Return(nil, errors.New("i/o timeout")).Once()
		client.On("XReadGroup", mock.Anything, newReads()).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, redis.Nil).Once()

		consumer := NewConsumer(client, nil, nil, ConsumerConfig{ErrPause: time.Millisecond})

		err := consumer.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		client.AssertNumberOfCalls(t, "XReadGroup", 3)
	})

	t.Run("failed event is handled again from the pending list", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		client := new(MockStreamClient)
		msg := runMessage(t, "1-0", EventTypeRunCompleted, "run-1")
		streams := []redis.XStream{{Stream: "stream:business_runs", Messages: []redis.XMessage{msg}}}

		client.On("XGroupCreateMkStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		client.On("XReadGroup", mock.Anything, pendingReads("0")).Return(nil, redis.Nil).Once()
		client.On("XReadGroup", mock.Anything, newReads()).Return(streams, nil).Once()
		client.On("XReadGroup", mock.Anything, pendingReads("0")).Return(streams, nil).Once()
		client.On("XAck", mock.Anything, "stream:business_runs", "run-consumer-group", []string{"1-0"}).Return(nil).Once()
		client.On("XReadGroup", mock.Anything, newReads()).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, redis.Nil).Once()

		attempts := 0
		consumer := NewConsumer(client, func(context.Context, RunFinishedPayload) error {
			attempts++
			if attempts == 1 {
				return errors.New("database unavailable")
			}
			return nil
		}, nil, ConsumerConfig{PendingEvery: 1})

		err := consumer.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, attempts)
		client.AssertExpectations(t)
	})
}
