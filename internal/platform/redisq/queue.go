// Package redisq implements task.Queue on a Redis sorted set so that delayed
// retries survive a restart of the process.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/bookpush/internal/task"
)

// DefaultPollInterval is used when Config.PollInterval is not positive.
const DefaultPollInterval = 500 * time.Millisecond

// Config configures a Queue.
type Config struct {
	// KeyPrefix namespaces the sorted set, which is stored at "<prefix>:queue".
	KeyPrefix string
	// PollInterval is how long Dequeue waits between checks for due jobs.
	PollInterval time.Duration
}

// Queue stores job IDs scored by their run time in milliseconds. Members are
// claimed with ZREM, so a job ID is handed to at most one waiting worker per
// enqueue.
type Queue struct {
	client       goredis.UniversalClient
	key          string
	pollInterval time.Duration
	logger       *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ task.Queue = (*Queue)(nil)

// New creates a Queue. The caller owns client and closes it after the queue.
func New(client goredis.UniversalClient, cfg Config, l *slog.Logger) *Queue {
	if l == nil {
		l = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "bookpush"
	}
	return &Queue{
		client:       client,
		key:          prefix + ":queue",
		pollInterval: cfg.PollInterval,
		logger:       l.With(slog.String("component", "redis_queue")),
		done:         make(chan struct{}),
	}
}

// Enqueue implements task.Queue. Re-enqueueing a member moves its run time.
func (q *Queue) Enqueue(ctx context.Context, jobID uuid.UUID, runAt time.Time) error {
	select {
	case <-q.done:
		return task.ErrQueueClosed
	default:
	}

	err := q.client.ZAdd(ctx, q.key, goredis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: jobID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("redisq: enqueue %s: %w", jobID, err)
	}
	return nil
}

// Dequeue implements task.Queue.
func (q *Queue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		id, ok, err := q.claimDue(ctx)
		if err != nil {
			return uuid.Nil, err
		}
		if ok {
			return id, nil
		}

		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-q.done:
			return uuid.Nil, task.ErrQueueClosed
		case <-ticker.C:
		}
	}
}

// claimDue removes and returns the earliest member whose score has passed.
func (q *Queue) claimDue(ctx context.Context) (uuid.UUID, bool, error) {
	for {
		select {
		case <-q.done:
			return uuid.Nil, false, task.ErrQueueClosed
		default:
		}

		members, err := q.client.ZRangeByScore(ctx, q.key, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
			Count: 1,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return uuid.Nil, false, err
			}
			return uuid.Nil, false, fmt.Errorf("redisq: range due jobs: %w", err)
		}
		if len(members) == 0 {
			return uuid.Nil, false, nil
		}

		removed, err := q.client.ZRem(ctx, q.key, members[0]).Result()
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("redisq: claim %s: %w", members[0], err)
		}
		if removed == 0 {
			// another consumer won the race
			continue
		}

		id, err := uuid.Parse(members[0])
		if err != nil {
			q.logger.Warn("dropping malformed queue member", "member", members[0], "error", err)
			continue
		}
		return id, true, nil
	}
}

// Len returns the number of scheduled members.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}

// Close implements task.Queue. Scheduled members stay in Redis.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
