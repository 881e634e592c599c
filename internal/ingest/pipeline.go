// Package ingest turns an admitted upload into a stored recording: validate, transcode, persist,
// then settle the pending record. Runs are independent; each only touches files named after its
// own fileRoot.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/codereplay/backend/internal/models"
	"github.com/codereplay/backend/pkg/metrics"
)

// settleTimeout bounds the bookkeeping done after a run, which must happen even on shutdown.
const settleTimeout = 10 * time.Second

// Job is one admitted upload. Empty paths mean the client did not send that part.
type Job struct {
	FileRoot     int64
	Email        string
	TracePath    string
	AudioPath    string
	MetadataPath string
	// TempFiles are unlinked when the run settles, whatever its outcome.
	TempFiles []string
}

// PendingStore is the part of the pending record store the pipeline settles.
type PendingStore interface {
	MarkFailed(ctx context.Context, fileRoot int64) error
	DeleteByFileRoot(ctx context.Context, fileRoot int64) error
}

// SummaryStore persists finished recordings.
type SummaryStore interface {
	Insert(ctx context.Context, summary *models.RecordingSummary) error
	FindByFileRoot(ctx context.Context, fileRoot int64) (*models.RecordingSummary, error)
}

// GroupLookup returns the ids of the active groups a user belongs to.
type GroupLookup interface {
	ActiveGroupIDs(ctx context.Context, email string) ([]string, error)
}

// Transcoder converts one audio file into every playback format under outputBase.
type Transcoder interface {
	Transcode(ctx context.Context, input, outputBase string) ([]string, error)
}

// ArtifactStore is the downloads directory.
type ArtifactStore interface {
	OutputBase(fileRoot int64) string
	WriteTrace(fileRoot int64, data []byte) (string, error)
	RemoveArtifacts(fileRoot int64) ([]string, error)
}

// Mirror copies finished artifacts to remote storage. Optional.
type Mirror interface {
	MirrorFiles(ctx context.Context, paths []string) ([]string, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

// Pipeline runs ingestion jobs.
type Pipeline struct {
	pending    PendingStore
	summaries  SummaryStore
	groups     GroupLookup
	transcoder Transcoder
	artifacts  ArtifactStore
	mirror     Mirror
	metrics    *metrics.IngestMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewPipeline creates a pipeline. mirror and m may be nil.
func NewPipeline(pending PendingStore, summaries SummaryStore, groups GroupLookup, transcoder Transcoder, artifacts ArtifactStore, mirror Mirror, m *metrics.IngestMetrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		pending:    pending,
		summaries:  summaries,
		groups:     groups,
		transcoder: transcoder,
		artifacts:  artifacts,
		mirror:     mirror,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// run carries per-job state between steps.
type run struct {
	job        Job
	log        *zap.Logger
	trace      *Trace
	meta       *Metadata
	outputs    []string
	mirrorKeys []string
}

// Run processes one job to a terminal state and returns the failure, if any. The pending record
// is settled and temp files are removed before Run returns.
//
// When ctx is cancelled mid-run the outcome is not terminal: partial artifacts are removed, the
// pending record and temp files are kept, and the returned error wraps ErrInterrupted.
func (p *Pipeline) Run(ctx context.Context, job Job) error {
	start := p.now()
	r := &run{job: job, log: p.logger.With(zap.Int64("file_root", job.FileRoot), zap.String("email", job.Email))}
	p.metrics.Started()
	keepUploads := false
	defer func() {
		if !keepUploads {
			p.removeTempFiles(r)
		}
	}()

	r.log.Info("ingest started", zap.String("state", string(StateReceived)))
	err := p.process(ctx, r)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err != nil && ctx.Err() != nil {
		keepUploads = true
		p.discard(settleCtx, r)
		p.metrics.Finished(string(StateInterrupted), string(FailedState(err)), p.now().Sub(start))
		r.log.Warn("ingest interrupted", zap.String("state", string(FailedState(err))), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	if err != nil {
		p.fail(settleCtx, r, err)
		p.metrics.Finished(string(StateFailed), string(FailedState(err)), p.now().Sub(start))
		return err
	}
	if delErr := p.pending.DeleteByFileRoot(settleCtx, job.FileRoot); delErr != nil {
		// The summary exists; pending listings skip rows that already have one.
		r.log.Error("delete pending record failed", zap.Error(delErr))
	}
	p.metrics.Finished(string(StateSucceeded), "", p.now().Sub(start))
	r.log.Info("ingest succeeded", zap.Duration("took", p.now().Sub(start)))
	return nil
}

func (p *Pipeline) process(ctx context.Context, r *run) error {
	if err := p.validate(r); err != nil {
		return &StageError{State: StateValidating, Err: err}
	}
	if err := p.transcode(ctx, r); err != nil {
		return &StageError{State: StateTranscoding, Err: err}
	}
	if err := p.persist(ctx, r); err != nil {
		return &StageError{State: StatePersisting, Err: err}
	}
	return nil
}

func (p *Pipeline) validate(r *run) error {
	if r.job.Email == "" {
		return ErrUnauthorized
	}
	if r.job.TracePath == "" {
		return fmt.Errorf("%w: trace part missing", ErrValidation)
	}
	if r.job.MetadataPath == "" {
		return fmt.Errorf("%w: metadata part missing", ErrValidation)
	}
	if r.job.AudioPath == "" {
		return fmt.Errorf("%w: audio part missing", ErrValidation)
	}
	raw, err := os.ReadFile(r.job.TracePath)
	if err != nil {
		return fmt.Errorf("%w: read trace: %v", ErrValidation, err)
	}
	if r.trace, err = ParseTrace(raw); err != nil {
		return err
	}
	if err := r.trace.Validate(); err != nil {
		return err
	}
	raw, err = os.ReadFile(r.job.MetadataPath)
	if err != nil {
		return fmt.Errorf("%w: read metadata: %v", ErrValidation, err)
	}
	if r.meta, err = ParseMetadata(raw); err != nil {
		return err
	}
	if _, err := r.meta.ParentOf(r.job.FileRoot); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) transcode(ctx context.Context, r *run) error {
	outputs, err := p.transcoder.Transcode(ctx, r.job.AudioPath, p.artifacts.OutputBase(r.job.FileRoot))
	r.outputs = outputs
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExternalTool, err)
	}
	return nil
}

func (p *Pipeline) persist(ctx context.Context, r *run) error {
	ts := p.now()
	forkedFrom, _ := r.meta.ParentOf(r.job.FileRoot)
	if forkedFrom != r.job.FileRoot {
		parent, err := p.summaries.FindByFileRoot(ctx, forkedFrom)
		if err != nil {
			return fmt.Errorf("%w: look up parent %d: %w", ErrPersistence, forkedFrom, err)
		}
		if parent == nil {
			return fmt.Errorf("%w: forkedFrom %d does not exist", ErrValidation, forkedFrom)
		}
	}

	stamped, err := r.trace.Stamped(ts)
	if err != nil {
		return fmt.Errorf("%w: encode trace: %w", ErrPersistence, err)
	}
	tracePath, err := p.artifacts.WriteTrace(r.job.FileRoot, stamped)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	groups, err := p.groups.ActiveGroupIDs(ctx, r.job.Email)
	if err != nil {
		return fmt.Errorf("%w: group lookup: %w", ErrPersistence, err)
	}
	if groups == nil {
		groups = []string{}
	}

	if p.mirror != nil {
		keys, err := p.mirror.MirrorFiles(ctx, append(append([]string{}, r.outputs...), tracePath))
		r.mirrorKeys = keys
		if err != nil {
			return fmt.Errorf("%w: mirror artifacts: %w", ErrPersistence, err)
		}
	}

	summary := &models.RecordingSummary{
		FileRoot:        r.job.FileRoot,
		Email:           r.job.Email,
		Mode:            r.trace.Mode,
		Duration:        r.trace.CodeDuration,
		Timestamp:       ts,
		Title:           r.meta.Title,
		Tag:             r.meta.Tag,
		Description:     r.meta.Description,
		ShowFiles:       r.meta.ShowFiles,
		ContainerHeight: r.meta.ContainerHeight,
		UserGroups:      groups,
		ForkedFrom:      forkedFrom,
	}
	if err := p.summaries.Insert(ctx, summary); err != nil {
		return fmt.Errorf("%w: insert summary: %w", ErrPersistence, err)
	}
	return nil
}

// fail records the failure and removes whatever artifacts the run produced. Nothing here escalates.
func (p *Pipeline) fail(ctx context.Context, r *run, err error) {
	r.log.Warn("ingest failed", zap.String("state", string(FailedState(err))), zap.Error(err))
	if markErr := p.pending.MarkFailed(ctx, r.job.FileRoot); markErr != nil {
		r.log.Error("mark pending record failed", zap.Error(markErr))
	}
	if errors.Is(err, ErrUnauthorized) {
		return
	}
	p.discard(ctx, r)
}

// discard removes the artifacts a run produced, locally and in the mirror.
func (p *Pipeline) discard(ctx context.Context, r *run) {
	removed, rmErr := p.artifacts.RemoveArtifacts(r.job.FileRoot)
	if rmErr != nil {
		r.log.Warn("remove partial artifacts", zap.Strings("paths", removed), zap.Error(rmErr))
	}
	if p.mirror != nil && len(r.mirrorKeys) > 0 {
		if delErr := p.mirror.DeleteObjects(ctx, r.mirrorKeys); delErr != nil {
			r.log.Warn("remove mirrored artifacts", zap.Strings("keys", r.mirrorKeys), zap.Error(delErr))
		}
	}
}

func (p *Pipeline) removeTempFiles(r *run) {
	seen := make(map[string]struct{}, len(r.job.TempFiles))
	for _, path := range r.job.TempFiles {
		if _, dup := seen[path]; dup || path == "" {
			continue
		}
		seen[path] = struct{}{}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("remove temp upload", zap.String("path", path), zap.Error(err))
		}
	}
}
