package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"frameworks/api_payments/internal/jobs"
	"frameworks/api_payments/internal/queue"
	"frameworks/pkg/config"
	"frameworks/pkg/logging"
)

// newDispatcher enqueues onto the same redis queues the service workers drain.
func newDispatcher(ctx context.Context, logger logging.Logger) (*jobs.Dispatcher, func(), error) {
	client, err := openRedis(ctx)
	if err != nil {
		return nil, nil, err
	}
	cfg := queue.Config{Prefix: config.GetEnv("QUEUE_PREFIX", "bursar")}
	d := jobs.NewDispatcher(
		queue.New(client, jobs.QueueDunning, cfg, logger),
		queue.New(client, jobs.QueuePayout, cfg, logger),
		queue.New(client, jobs.QueueRenewal, cfg, logger),
	)
	return d, func() { _ = client.Close() }, nil
}

func validateUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid UUID format: %q", id)
	}
	return nil
}
