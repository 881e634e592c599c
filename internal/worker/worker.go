package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codereplay/backend/internal/ingest"
	"github.com/codereplay/backend/pkg/queue"
)

// settleTimeout bounds queue and store writes made after the worker context is cancelled.
const settleTimeout = 10 * time.Second

// JobSource yields queued jobs.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	DeadLetter(ctx context.Context, job *queue.Job) error
}

// Runner processes one ingestion job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job ingest.Job) error
}

// PendingStore settles records whose run crashed, and sweeps abandoned ones.
type PendingStore interface {
	MarkFailed(ctx context.Context, fileRoot int64) error
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IngestProcessor pulls ingest jobs off the queue and runs them on a fixed pool of goroutines.
type IngestProcessor struct {
	source  JobSource
	runner  Runner
	pending PendingStore
	logger  *zap.Logger
	backoff time.Duration
}

// NewIngestProcessor creates an ingest processor.
func NewIngestProcessor(source JobSource, runner Runner, pending PendingStore, logger *zap.Logger) *IngestProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestProcessor{source: source, runner: runner, pending: pending, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one job. Pipeline failures are terminal and already recorded, and envelopes
// that cannot be decoded are settled and dead-lettered here. Only interrupted runs come back as
// errors, and those are worth retrying.
func (p *IngestProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeIngest(job)
	if err != nil {
		p.reject(ctx, job, payload, err)
		return nil
	}
	runErr := p.runSafely(ctx, payload)
	switch {
	case errors.Is(runErr, ingest.ErrInterrupted):
		return runErr
	case runErr != nil:
		p.logger.Info("ingest job finished with failure",
			zap.String("job_id", job.ID), zap.Int64("file_root", payload.FileRoot), zap.Error(runErr))
	}
	return nil
}

// reject settles whatever the undecodable job still identifies, then parks it in the DLQ.
func (p *IngestProcessor) reject(ctx context.Context, job *queue.Job, payload queue.IngestPayload, cause error) {
	log := p.logger.With(zap.String("job_id", job.ID), zap.Int64("file_root", payload.FileRoot))
	log.Error("undecodable ingest job", zap.Error(cause))
	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if payload.FileRoot > 0 {
		if err := p.pending.MarkFailed(settle, payload.FileRoot); err != nil {
			log.Error("mark pending record failed", zap.Error(err))
		}
	}
	for _, path := range payload.TempFiles {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove temp upload", zap.String("path", path), zap.Error(err))
		}
	}
	if err := p.source.DeadLetter(settle, job); err != nil {
		log.Error("dead-letter job failed", zap.Error(err))
	}
}

func (p *IngestProcessor) runSafely(ctx context.Context, payload queue.IngestPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			p.logger.Error("ingest pipeline panicked",
				zap.Int64("file_root", payload.FileRoot), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
			defer cancel()
			if markErr := p.pending.MarkFailed(settle, payload.FileRoot); markErr != nil {
				p.logger.Error("mark pending record failed", zap.Int64("file_root", payload.FileRoot), zap.Error(markErr))
			}
		}
	}()
	return p.runner.Run(ctx, ingest.Job{
		FileRoot:     payload.FileRoot,
		Email:        payload.Email,
		TracePath:    payload.TracePath,
		AudioPath:    payload.AudioPath,
		MetadataPath: payload.MetadataPath,
		TempFiles:    payload.TempFiles,
	})
}

// SweepStale fails processing records older than olderThan. A worker that died mid-run would
// otherwise leave them spinning forever.
func (p *IngestProcessor) SweepStale(ctx context.Context, olderThan time.Duration) {
	n, err := p.pending.FailStale(ctx, olderThan)
	if err != nil {
		p.logger.Warn("sweep stale pending records", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("failed stale pending records", zap.Int64("count", n), zap.Duration("older_than", olderThan))
	}
}

// Run starts workers goroutines and blocks until ctx is cancelled and all of them have returned.
func (p *IngestProcessor) Run(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	p.logger.Info("ingest workers started", zap.Int("workers", workers))
	wg.Wait()
	p.logger.Info("ingest workers stopped")
}

func (p *IngestProcessor) loop(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		log.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			log.Warn("job interrupted, requeueing", zap.String("job_id", job.ID), zap.Error(err))
			p.retry(ctx, job)
			p.sleep(ctx)
		}
	}
}

// retry requeues job even when ctx is already cancelled, which is the shutdown case.
func (p *IngestProcessor) retry(ctx context.Context, job *queue.Job) {
	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := p.source.Retry(settle, job); err != nil {
		p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (p *IngestProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
