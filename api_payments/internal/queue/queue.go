// Package queue is a Redis-backed reliable job queue.
//
// Each queue keeps a pending list, a processing list that jobs move into
// atomically while a worker owns them, a delayed sorted set scored by run-at
// time in unix milliseconds, and a dead list. Delivery is at-least-once:
// a job left in processing past the visibility timeout is handed out again,
// so handlers must be idempotent. Jobs seen in processing before a worker
// stamped their start time are tracked in an unstarted sorted set scored by
// when the sweep first saw them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"frameworks/pkg/logging"
)

const (
	DefaultMaxRetries        = 5
	DefaultWorkers           = 2
	DefaultBaseBackoff       = 30 * time.Second
	DefaultMaxBackoff        = time.Hour
	DefaultVisibilityTimeout = 10 * time.Minute
	DefaultPollInterval      = 5 * time.Second
	DefaultBlockTimeout      = 2 * time.Second
	DefaultJobTTL            = 7 * 24 * time.Hour

	promoteBatch = 100
)

// ErrNoHandler is recorded on jobs whose type has no registered handler.
var ErrNoHandler = errors.New("no handler registered for job type")

// promoteScript moves due delayed jobs to pending. ZREM is the guard: only
// the caller that removed an id pushes it.
var promoteScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = 0
for _, id in ipairs(ids) do
	if redis.call('ZREM', KEYS[1], id) == 1 then
		redis.call('LPUSH', KEYS[2], id)
		moved = moved + 1
	end
end
return moved
`)

// Handler processes one job. Returning an error schedules a retry unless the
// error is Permanent or the job is out of retries.
type Handler func(ctx context.Context, job *Job) error

// Config tunes a queue; zero values take the defaults above. A negative
// MaxRetries disables retries.
type Config struct {
	Prefix            string
	Workers           int
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BlockTimeout      time.Duration
	JobTTL            time.Duration
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "bursar"
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = DefaultBlockTimeout
	}
	if c.JobTTL <= 0 {
		c.JobTTL = DefaultJobTTL
	}
	return c
}

// Stats is a point-in-time view of the queue's lists.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Dead       int64 `json:"dead"`
}

// Queue is one named queue.
type Queue struct {
	name     string
	client   goredis.UniversalClient
	cfg      Config
	logger   logging.Logger
	now      func() time.Time
	jobs     *prometheus.CounterVec
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(client goredis.UniversalClient, name string, cfg Config, logger logging.Logger) *Queue {
	return &Queue{
		name:     name,
		client:   client,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
}

// WithMetrics counts finished jobs by queue, type and outcome.
func (q *Queue) WithMetrics(jobs *prometheus.CounterVec) *Queue {
	q.jobs = jobs
	return q
}

func (q *Queue) Name() string { return q.name }

// Handle registers h for jobType.
func (q *Queue) Handle(jobType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

// Keys share a hash tag so the multi-key commands stay on one cluster slot.
func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("%s:{%s}:%s", q.cfg.Prefix, q.name, suffix)
}

func (q *Queue) pendingKey() string    { return q.key("pending") }
func (q *Queue) processingKey() string { return q.key("processing") }
func (q *Queue) delayedKey() string    { return q.key("delayed") }
func (q *Queue) deadKey() string       { return q.key("dead") }
func (q *Queue) unstartedKey() string  { return q.key("unstarted") }
func (q *Queue) jobKey(id string) string {
	return q.key("job:" + id)
}

// Enqueue adds a job that is ready now.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}) (*Job, error) {
	return q.Schedule(ctx, jobType, payload, time.Time{})
}

// Schedule adds a job that becomes ready at runAt. A zero or past runAt is
// ready now.
func (q *Queue) Schedule(ctx context.Context, jobType string, payload interface{}, runAt time.Time) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
	}
	now := q.now()
	if runAt.IsZero() || runAt.Before(now) {
		runAt = now
	}
	job := &Job{
		ID:         uuid.New().String(),
		Queue:      q.name,
		Type:       jobType,
		Payload:    raw,
		MaxRetries: q.cfg.MaxRetries,
		RunAt:      runAt,
		CreatedAt:  now,
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), body, q.ttl(runAt))
	if runAt.After(now) {
		pipe.ZAdd(ctx, q.delayedKey(), goredis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
	} else {
		pipe.LPush(ctx, q.pendingKey(), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}

	q.logger.WithFields(logging.Fields{
		"queue":  q.name,
		"type":   jobType,
		"job_id": job.ID,
		"run_at": runAt,
	}).Debug("Enqueued job")
	return job, nil
}

// ttl keeps a job body alive until well after it is due.
func (q *Queue) ttl(runAt time.Time) time.Duration {
	wait := runAt.Sub(q.now())
	if wait < 0 {
		wait = 0
	}
	return wait + q.cfg.JobTTL
}

// Run starts the workers and the maintenance loop and blocks until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	q.logger.WithFields(logging.Fields{
		"queue":   q.name,
		"workers": q.cfg.Workers,
	}).Info("Starting queue workers")

	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.worker(ctx, id)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.maintain(ctx)
	}()
	wg.Wait()

	q.logger.WithField("queue", q.name).Info("Queue workers stopped")
}

func (q *Queue) worker(ctx context.Context, id int) {
	for ctx.Err() == nil {
		if _, err := q.ProcessOne(ctx); err != nil && ctx.Err() == nil {
			q.logger.WithError(err).WithFields(logging.Fields{
				"queue":  q.name,
				"worker": id,
			}).Error("Queue worker error")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (q *Queue) maintain(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				q.logger.WithError(err).WithField("queue", q.name).Warn("Failed to promote delayed jobs")
			}
			if _, err := q.SweepStuck(ctx); err != nil && ctx.Err() == nil {
				q.logger.WithError(err).WithField("queue", q.name).Warn("Failed to sweep stuck jobs")
			}
		}
	}
}

// ProcessOne waits up to the block timeout for a job and handles it. It
// reports whether a job was taken.
func (q *Queue) ProcessOne(ctx context.Context) (bool, error) {
	id, err := q.client.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), q.cfg.BlockTimeout).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to dequeue from %s: %w", q.name, err)
	}
	// Bookkeeping must finish even when shutdown cancels ctx mid-job.
	return true, q.handle(context.WithoutCancel(ctx), ctx, id)
}

func (q *Queue) handle(bg, ctx context.Context, id string) error {
	job, err := q.load(bg, id)
	if errors.Is(err, goredis.Nil) {
		q.logger.WithFields(logging.Fields{"queue": q.name, "job_id": id}).Warn("Dropping job with expired body")
		return q.client.LRem(bg, q.processingKey(), 1, id).Err()
	}
	if err != nil {
		_ = q.client.LRem(bg, q.processingKey(), 1, id).Err()
		_ = q.client.LPush(bg, q.deadKey(), id).Err()
		return err
	}

	started := q.now()
	job.Attempts++
	job.StartedAt = &started
	if err := q.save(bg, job); err != nil {
		return err
	}

	q.mu.RLock()
	h, ok := q.handlers[job.Type]
	q.mu.RUnlock()

	log := q.logger.WithFields(logging.Fields{
		"queue":   q.name,
		"type":    job.Type,
		"job_id":  job.ID,
		"attempt": job.Attempts,
	})

	var runErr error
	if !ok {
		runErr = Permanent(fmt.Errorf("%w: %s", ErrNoHandler, job.Type))
	} else {
		runErr = q.run(ctx, h, job)
	}

	if runErr == nil {
		pipe := q.client.TxPipeline()
		pipe.LRem(bg, q.processingKey(), 1, job.ID)
		pipe.Del(bg, q.jobKey(job.ID))
		if _, err := pipe.Exec(bg); err != nil {
			return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		}
		q.count(job, "succeeded")
		log.Debug("Job completed")
		return nil
	}

	job.LastError = runErr.Error()
	job.StartedAt = nil
	if IsPermanent(runErr) || job.Attempts > job.MaxRetries {
		log.WithError(runErr).Error("Job moved to dead list")
		q.count(job, "dead")
		return q.bury(bg, job)
	}

	delay := Backoff(job.Attempts, q.cfg.BaseBackoff, q.cfg.MaxBackoff)
	job.RunAt = q.now().Add(delay)
	log.WithError(runErr).WithField("retry_in", delay.String()).Warn("Job failed, scheduling retry")
	q.count(job, "retried")
	return q.retry(bg, job)
}

func (q *Queue) run(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("job handler panicked: %v", r))
		}
	}()
	return h(ctx, job)
}

func (q *Queue) retry(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), body, q.ttl(job.RunAt))
	pipe.LRem(ctx, q.processingKey(), 1, job.ID)
	pipe.ZAdd(ctx, q.delayedKey(), goredis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) bury(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), body, q.cfg.JobTTL)
	pipe.LRem(ctx, q.processingKey(), 1, job.ID)
	pipe.LPush(ctx, q.deadKey(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bury job %s: %w", job.ID, err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose run-at has passed to pending.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	moved, err := promoteScript.Run(ctx, q.client, []string{q.delayedKey(), q.pendingKey()}, now, promoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote %s jobs: %w", q.name, err)
	}
	return moved, nil
}

// SweepStuck requeues jobs that stayed in processing longer than the
// visibility timeout, which happens when a worker dies mid-job. A job the
// worker never stamped with a start time ages from the first sweep that saw
// it in processing.
func (q *Queue) SweepStuck(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list %s processing jobs: %w", q.name, err)
	}

	requeued := 0
	now := q.now()
	inProcessing := make(map[string]bool, len(ids))
	for _, id := range ids {
		inProcessing[id] = true
		job, err := q.load(ctx, id)
		if errors.Is(err, goredis.Nil) {
			_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
			continue
		}
		if err != nil {
			q.logger.WithError(err).WithField("job_id", id).Warn("Unreadable job in processing list")
			continue
		}

		var since time.Time
		if job.StartedAt != nil {
			since = *job.StartedAt
		} else {
			since, err = q.firstSeenUnstarted(ctx, id, now)
			if err != nil {
				return requeued, err
			}
		}
		if now.Sub(since) <= q.cfg.VisibilityTimeout {
			continue
		}
		removed, err := q.client.LRem(ctx, q.processingKey(), 1, id).Result()
		if err != nil {
			return requeued, fmt.Errorf("failed to release stuck job %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.RPush(ctx, q.pendingKey(), id)
		pipe.ZRem(ctx, q.unstartedKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return requeued, fmt.Errorf("failed to requeue stuck job %s: %w", id, err)
		}
		q.logger.WithFields(logging.Fields{
			"queue":   q.name,
			"type":    job.Type,
			"job_id":  id,
			"age":     now.Sub(since).String(),
			"started": job.StartedAt != nil,
		}).Warn("Requeued stuck job")
		requeued++
	}

	// Forget unstarted marks for jobs that have since left processing.
	marked, err := q.client.ZRange(ctx, q.unstartedKey(), 0, -1).Result()
	if err != nil {
		return requeued, fmt.Errorf("failed to list %s unstarted jobs: %w", q.name, err)
	}
	for _, id := range marked {
		if !inProcessing[id] {
			_ = q.client.ZRem(ctx, q.unstartedKey(), id).Err()
		}
	}
	return requeued, nil
}

// firstSeenUnstarted records now as the first sighting of an unstarted job
// in processing and returns the earliest recorded sighting.
func (q *Queue) firstSeenUnstarted(ctx context.Context, id string, now time.Time) (time.Time, error) {
	key := q.unstartedKey()
	if err := q.client.ZAddNX(ctx, key, goredis.Z{Score: float64(now.UnixMilli()), Member: id}).Err(); err != nil {
		return time.Time{}, fmt.Errorf("failed to mark unstarted job %s: %w", id, err)
	}
	score, err := q.client.ZScore(ctx, key, id).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read unstarted job %s: %w", id, err)
	}
	return time.UnixMilli(int64(score)), nil
}

// Stats returns the current list sizes.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.pendingKey())
	processing := pipe.LLen(ctx, q.processingKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	dead := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read %s stats: %w", q.name, err)
	}
	return Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
	}, nil
}

// Get returns a job body by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.load(ctx, id)
}

func (q *Queue) load(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) save(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), body, q.cfg.JobTTL)
	pipe.ZRem(ctx, q.unstartedKey(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) count(job *Job, outcome string) {
	if q.jobs != nil {
		q.jobs.WithLabelValues(q.name, job.Type, outcome).Inc()
	}
}
