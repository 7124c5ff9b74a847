// Package queue implements the durable job broker on Redis: a FIFO list per
// queue plus one hash per job holding status, progress, payload and result.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/log"
)

var (
	// ErrNoSuchJob is returned when a job ID has no broker record, either
	// because it never existed or because retention expired it.
	ErrNoSuchJob = errors.New("queue: no such job")
	// ErrEmpty is returned by Dequeue when the blocking pop times out.
	ErrEmpty = errors.New("queue: empty")
	// ErrStatusRegression is returned when a write would move a job backward
	// in its lifecycle.
	ErrStatusRegression = errors.New("queue: status regression")
)

// Broker is the Redis-backed queue and job store.
type Broker struct {
	client    *redis.Client
	logger    zerolog.Logger
	resultTTL time.Duration
}

// New connects to the broker at addr. The connection is verified with a ping
// before the broker is returned.
func New(ctx context.Context, addr string, resultTTL time.Duration) (*Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("queue")
	logger.Info().Str("addr", addr).Msg("connected to Redis broker")

	return &Broker{client: client, logger: logger, resultTTL: resultTTL}, nil
}

// NewWithClient wraps an existing client. Used by tests running against
// miniredis.
func NewWithClient(client *redis.Client, resultTTL time.Duration) *Broker {
	return &Broker{client: client, logger: zerolog.Nop(), resultTTL: resultTTL}
}

// Close releases the underlying connection pool.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Ping verifies broker connectivity.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func queueKey(name string) string { return "queue:" + name }
func jobKey(id string) string     { return "job:" + id }

// Enqueue records the job hash and pushes the ID onto the named queue in one
// transaction, so a popped ID always has a readable record.
func (b *Broker) Enqueue(ctx context.Context, queueName, jobID string, payload any, timeout time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for job %s: %w", jobID, err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]any{
		"status":     string(StatusQueued),
		"payload":    string(data),
		"timeout":    int64(timeout.Seconds()),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.LPush(ctx, queueKey(queueName), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s on %s: %w", jobID, queueName, err)
	}

	b.logger.Info().
		Str("event", "job.enqueued").
		Str("job_id", jobID).
		Str("queue", queueName).
		Msg("job enqueued")
	return nil
}

// Dequeue blocks up to block for the next job ID on any of the named queues,
// in priority order, and returns its record. A popped ID whose record has
// expired yields ErrNoSuchJob; callers should skip it and poll again.
func (b *Broker) Dequeue(ctx context.Context, block time.Duration, queueNames ...string) (*Job, error) {
	keys := make([]string, len(queueNames))
	for i, name := range queueNames {
		keys[i] = queueKey(name)
	}
	res, err := b.client.BRPop(ctx, block, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("pop from %v: %w", queueNames, err)
	}
	// BRPOP returns [key, value].
	poppedQueue := strings.TrimPrefix(res[0], "queue:")
	job, err := b.FetchJob(ctx, res[1])
	if err != nil {
		return nil, err
	}
	job.Queue = poppedQueue
	return job, nil
}

// QueueDepth reports how many jobs are waiting on the named queue.
func (b *Broker) QueueDepth(ctx context.Context, queueName string) (int64, error) {
	n, err := b.client.LLen(ctx, queueKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("depth of %s: %w", queueName, err)
	}
	return n, nil
}

// FetchJob loads a job record by ID.
func (b *Broker) FetchJob(ctx context.Context, jobID string) (*Job, error) {
	fields, err := b.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNoSuchJob
	}

	job := &Job{
		ID:            jobID,
		Status:        Status(fields["status"]),
		ProgressStage: fields["progress_stage"],
		ExcInfo:       fields["exc_info"],
	}
	if raw := fields["result"]; raw != "" {
		job.Result = json.RawMessage(raw)
	}
	if raw := fields["payload"]; raw != "" {
		job.Payload = json.RawMessage(raw)
	}
	if raw := fields["timeout"]; raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			job.Timeout = time.Duration(secs) * time.Second
		}
	}
	if raw := fields["created_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			job.CreatedAt = ts
		}
	}
	return job, nil
}

// SetStatus transitions a job to the given status, refusing regressions so a
// finished job can never report queued again.
func (b *Broker) SetStatus(ctx context.Context, jobID string, status Status) error {
	current, err := b.client.HGet(ctx, jobKey(jobID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return ErrNoSuchJob
	}
	if err != nil {
		return fmt.Errorf("read status of job %s: %w", jobID, err)
	}
	if statusRank[Status(current)] > statusRank[status] ||
		(Status(current).Terminal() && Status(current) != status) {
		return fmt.Errorf("%w: %s -> %s on job %s", ErrStatusRegression, current, status, jobID)
	}

	if err := b.client.HSet(ctx, jobKey(jobID), "status", string(status)).Err(); err != nil {
		return fmt.Errorf("set status of job %s: %w", jobID, err)
	}
	if status.Terminal() {
		b.expire(ctx, jobID)
	}
	return nil
}

// SetProgressStage records the worker's current pipeline stage for pollers.
func (b *Broker) SetProgressStage(ctx context.Context, jobID, stage string) error {
	if err := b.client.HSet(ctx, jobKey(jobID), "progress_stage", stage).Err(); err != nil {
		return fmt.Errorf("set progress stage of job %s: %w", jobID, err)
	}
	return nil
}

// SetResult stores the result JSON and marks the job finished.
func (b *Broker) SetResult(ctx context.Context, jobID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result for job %s: %w", jobID, err)
	}
	if err := b.client.HSet(ctx, jobKey(jobID), map[string]any{
		"result": string(data),
		"status": string(StatusFinished),
	}).Err(); err != nil {
		return fmt.Errorf("store result for job %s: %w", jobID, err)
	}
	b.expire(ctx, jobID)
	b.logger.Info().
		Str("event", "job.finished").
		Str("job_id", jobID).
		Msg("job result stored")
	return nil
}

// SetFailed records the failure text and marks the job failed.
func (b *Broker) SetFailed(ctx context.Context, jobID, excInfo string) error {
	if err := b.client.HSet(ctx, jobKey(jobID), map[string]any{
		"exc_info": excInfo,
		"status":   string(StatusFailed),
	}).Err(); err != nil {
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	b.expire(ctx, jobID)
	b.logger.Warn().
		Str("event", "job.failed").
		Str("job_id", jobID).
		Str("exc_info", excInfo).
		Msg("job failed")
	return nil
}

// expire applies the terminal-state retention TTL.
func (b *Broker) expire(ctx context.Context, jobID string) {
	if b.resultTTL <= 0 {
		return
	}
	if err := b.client.Expire(ctx, jobKey(jobID), b.resultTTL).Err(); err != nil {
		b.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to set retention TTL")
	}
}
