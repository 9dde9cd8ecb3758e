package decisionlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"frameworks/api_payments/internal/store"
	"frameworks/pkg/kafka"
	"frameworks/pkg/logging"
)

const (
	DefaultTopic     = "payments.decisions"
	relayCursorKey   = "payments:decisions:relay:cursor"
	relayBatchSize   = 200
	relayDefaultTick = 5 * time.Second

	// Rows younger than this are held back so transactions that took a lower
	// seq but committed later are not skipped.
	relayDefaultSettle = 10 * time.Second
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Produce(ctx context.Context, msgs ...kafka.Message) error
}

// Relay forwards committed decision log rows to Kafka in seq order. The
// cursor lives in Redis; delivery is at-least-once, consumers dedupe on id.
type Relay struct {
	store     *store.Store
	publisher Publisher
	redis     goredis.UniversalClient
	topic     string
	interval  time.Duration
	settle    time.Duration
	now       func() time.Time
	logger    logging.Logger
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	Topic    string
	Interval time.Duration
	Settle   time.Duration
}

func NewRelay(s *store.Store, publisher Publisher, redis goredis.UniversalClient, cfg RelayConfig, logger logging.Logger) *Relay {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Interval <= 0 {
		cfg.Interval = relayDefaultTick
	}
	if cfg.Settle <= 0 {
		cfg.Settle = relayDefaultSettle
	}
	return &Relay{
		store:     s,
		publisher: publisher,
		redis:     redis,
		topic:     cfg.Topic,
		interval:  cfg.Interval,
		settle:    cfg.Settle,
		now:       time.Now,
		logger:    logger,
	}
}

// Run relays until ctx is canceled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.WithField("topic", r.topic).Info("Decision relay started")
	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WithError(err).Warn("Decision relay pass failed")
				}
				break
			}
			if n < relayBatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			r.logger.Info("Decision relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes the next batch after the stored cursor and advances it.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	cursor, err := r.cursor(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := r.store.DecisionsAfter(ctx, cursor, r.now().Add(-r.settle), relayBatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		value, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("failed to encode decision %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: r.topic,
			Key:   []byte(e.EntityID),
			Value: value,
			Headers: map[string]string{
				"agent":       string(e.Agent),
				"decision_id": e.ID,
			},
		})
	}
	if err := r.publisher.Produce(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("failed to publish decisions: %w", err)
	}

	last := entries[len(entries)-1].Seq
	if err := r.redis.Set(ctx, relayCursorKey, strconv.FormatInt(last, 10), 0).Err(); err != nil {
		return 0, fmt.Errorf("failed to store relay cursor: %w", err)
	}
	return len(entries), nil
}

func (r *Relay) cursor(ctx context.Context) (int64, error) {
	raw, err := r.redis.Get(ctx, relayCursorKey).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read relay cursor: %w", err)
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt relay cursor %q: %w", raw, err)
	}
	return seq, nil
}
