package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/business-contact-scraper/internal/database"
	"github.com/redis/go-redis/v9"
)

// StreamClient is the part of the Redis client the consumer uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Handler processes one run event. A returned error leaves the message
// pending in the group.
type Handler func(ctx context.Context, event RunFinishedPayload) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Name     string
	Block    time.Duration
	Count    int64
	ErrPause time.Duration
	// PendingEvery is the number of polls between passes over this
	// consumer's unacknowledged messages. The first pass runs at startup.
	PendingEvery int
}

// Consumer reads run events from a Redis stream as part of a consumer group.
type Consumer struct {
	client  StreamClient
	handler Handler
	cfg     ConsumerConfig
	logger  *slog.Logger
}

func NewConsumer(client StreamClient, handler Handler, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = database.RunEventStream
	}
	if cfg.Group == "" {
		cfg.Group = "run-consumer-group"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.ErrPause <= 0 {
		cfg.ErrPause = time.Second
	}
	if cfg.PendingEvery <= 0 {
		cfg.PendingEvery = 12
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:  client,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("component", "run_consumer", "stream", cfg.Stream, "group", cfg.Group),
	}
}

// Run creates the group if needed and consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil &&
		!strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Starting consumer", "name", c.cfg.Name)

	for polls := 0; ; polls++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if polls%c.cfg.PendingEvery == 0 {
			if err := c.recoverPending(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Failed to read pending messages", "error", err)
			}
		}
		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ErrPause):
			}
		}
	}
}

// poll reads one batch and handles it. It returns nil when the read timed
// out without messages.
func (c *Consumer) poll(ctx context.Context) error {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.handle(ctx, stream.Stream, msg)
		}
	}
	return nil
}

// recoverPending hands this consumer's delivered but unacknowledged messages
// to the handler again, oldest first.
func (c *Consumer) recoverPending(ctx context.Context) error {
	start := "0"
	for {
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, start},
			Count:    c.cfg.Count,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		read := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.logger.Info("Retrying pending event", "id", msg.ID)
				c.handle(ctx, stream.Stream, msg)
				start = msg.ID
				read++
			}
		}
		if int64(read) < c.cfg.Count {
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, stream string, msg redis.XMessage) {
	event, err := decodeMessage(msg)
	switch {
	case errors.Is(err, errSkip):
		c.logger.Debug("Skipping event", "id", msg.ID, "event_type", msg.Values["event_type"])
	case err != nil:
		// malformed messages are acknowledged so they are not redelivered
		c.logger.Error("Failed to decode event", "id", msg.ID, "error", err)
	default:
		if err := c.handler(ctx, event); err != nil {
			c.logger.Error("Failed to process event", "id", msg.ID, "run_id", event.RunID, "error", err)
			return
		}
		c.logger.Info("Event processed", "id", msg.ID, "event_type", event.EventType, "run_id", event.RunID)
	}

	if err := c.client.XAck(ctx, stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logger.Error("Failed to acknowledge message", "id", msg.ID, "error", err)
	}
}

var errSkip = errors.New("not a run event")

// decodeMessage reads the payload out of the relay envelope in the "data"
// field.
func decodeMessage(msg redis.XMessage) (RunFinishedPayload, error) {
	var event RunFinishedPayload

	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(EventTypeRunCompleted) && eventType != string(EventTypeRunFailed) {
		return event, errSkip
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return event, fmt.Errorf("missing data in event")
	}

	var envelope struct {
		Payload RunFinishedPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return event, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if envelope.Payload.RunID == "" {
		return event, fmt.Errorf("missing run_id in payload")
	}
	return envelope.Payload, nil
}
