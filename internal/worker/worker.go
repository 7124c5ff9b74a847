package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/log"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/metrics"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/queue"
)

// DefaultJobTimeout bounds a translation job when the enqueued record carries
// no timeout of its own.
const DefaultJobTimeout = 5000 * time.Second

// dequeueBlock is how long a single blocking pop waits before the loop checks
// its context again.
const dequeueBlock = 5 * time.Second

// Worker drains the translation and cleanup queues, one job at a time.
type Worker struct {
	broker   *queue.Broker
	pipeline *Pipeline
	logger   zerolog.Logger
}

// New builds a worker around the broker and analyzer clients in deps.
func New(deps Deps) *Worker {
	return &Worker{
		broker:   deps.Broker,
		pipeline: NewPipeline(deps),
		logger:   log.WithComponent("worker"),
	}
}

// Run processes jobs until ctx is cancelled. Translation jobs take priority
// over cleanup jobs when both queues hold work.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Strs("queues", []string{queue.TranslationsQueue, queue.CleanupQueue}).
		Msg("worker listening")

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info().Msg("worker shutting down")
			return err
		}

		if depth, derr := w.broker.QueueDepth(ctx, queue.TranslationsQueue); derr == nil {
			metrics.QueueWaiting.Set(float64(depth))
		}

		job, err := w.broker.Dequeue(ctx, dequeueBlock, queue.TranslationsQueue, queue.CleanupQueue)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if errors.Is(err, queue.ErrNoSuchJob) {
			// The popped ID's record expired before we read it; nothing to do.
			w.logger.Warn().Msg("dequeued job had no record, skipping")
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("dequeue failed")
			// Back off so a dead broker does not spin the loop.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		switch job.Queue {
		case queue.CleanupQueue:
			w.runCleanupJob(ctx, job)
		default:
			w.runTranslationJob(ctx, job)
		}
	}
}

// runTranslationJob executes the pipeline under the job's own timeout and
// records the terminal state. Failure text is stored verbatim so the gateway
// can surface it to pollers.
func (w *Worker) runTranslationJob(ctx context.Context, job *queue.Job) {
	if err := w.broker.SetStatus(ctx, job.ID, queue.StatusStarted); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job started")
		return
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	err := w.pipeline.Run(jobCtx, job)
	cancel()

	if err != nil {
		// Record the failure on the parent context: jobCtx may already be
		// dead when the pipeline timed out.
		if ferr := w.broker.SetFailed(ctx, job.ID, err.Error()); ferr != nil {
			w.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to mark job failed")
		}
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.JobsTotal.WithLabelValues("finished").Inc()
}

// runCleanupJob removes a finished job's intermediates. Cleanup is best
// effort: the job is marked finished even when individual removals fail.
func (w *Worker) runCleanupJob(ctx context.Context, job *queue.Job) {
	if err := w.broker.SetStatus(ctx, job.ID, queue.StatusStarted); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark cleanup job started")
		return
	}
	if err := RunCleanup(ctx, job); err != nil {
		if ferr := w.broker.SetFailed(ctx, job.ID, err.Error()); ferr != nil {
			w.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to mark cleanup job failed")
		}
		return
	}
	if err := w.broker.SetStatus(ctx, job.ID, queue.StatusFinished); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark cleanup job finished")
	}
}
