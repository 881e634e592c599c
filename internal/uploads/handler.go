// Package uploads admits multipart recording uploads and hands them to background ingestion.
package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codereplay/backend/internal/middleware"
	"github.com/codereplay/backend/internal/models"
	"github.com/codereplay/backend/pkg/queue"
	"github.com/codereplay/backend/pkg/response"
)

// Multipart field names.
const (
	FieldTrace    = "trace"
	FieldAudio    = "audio"
	FieldMetadata = "metadata"
)

const (
	enqueueTimeout = 5 * time.Second
	// metadata is read for the pending row only; larger sidecars are left to the pipeline.
	maxMetadataPeek = 64 << 10
)

// PendingStore is the part of the pending record store used at admission.
type PendingStore interface {
	Insert(ctx context.Context, rec *models.PendingRecord) error
	MarkFailed(ctx context.Context, fileRoot int64) error
}

// Dispatcher schedules background ingestion.
type Dispatcher interface {
	EnqueueIngest(ctx context.Context, payload queue.IngestPayload) error
}

// FileRootSource allocates recording identifiers.
type FileRootSource interface {
	Next(ctx context.Context) (int64, error)
}

// Handler serves POST /upload.
type Handler struct {
	pending    PendingStore
	dispatcher Dispatcher
	roots      FileRootSource
	tmpDir     string
	maxBytes   int64
	logger     *zap.Logger
}

// NewHandler creates an upload handler that stores parts under tmpDir and rejects bodies over maxBytes.
func NewHandler(pending PendingStore, dispatcher Dispatcher, roots FileRootSource, tmpDir string, maxBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pending: pending, dispatcher: dispatcher, roots: roots, tmpDir: tmpDir, maxBytes: maxBytes, logger: logger}
}

// Upload handles POST /upload. It responds with {"fileRoot": n} as soon as the pending row exists;
// transcoding happens in the background.
func (h *Handler) Upload(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "not signed in")
		return
	}
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(c, "upload too large")
			return
		}
		response.BadRequest(c, "invalid multipart body")
		return
	}
	defer func() {
		if err := form.RemoveAll(); err != nil {
			h.logger.Warn("remove multipart temp files", zap.Error(err))
		}
	}()

	parts := make(map[string]*multipart.FileHeader, 3)
	for _, field := range []string{FieldTrace, FieldAudio, FieldMetadata} {
		files := form.File[field]
		if len(files) > 1 {
			response.BadRequest(c, fmt.Sprintf("at most one %s file is allowed", field))
			return
		}
		if len(files) == 1 {
			parts[field] = files[0]
		}
	}

	fileRoot, err := h.roots.Next(ctx)
	if err != nil {
		h.logger.Error("allocate fileRoot failed", zap.Error(err))
		response.Internal(c, "failed to accept upload")
		return
	}
	log := h.logger.With(zap.Int64("file_root", fileRoot), zap.String("email", id.Email))

	payload := queue.IngestPayload{FileRoot: fileRoot, Email: id.Email, TempFiles: []string{}}
	for field, fh := range parts {
		dst := filepath.Join(h.tmpDir, fmt.Sprintf("%d-%s", fileRoot, field))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			removeFiles(log, append(payload.TempFiles, dst))
			log.Error("save upload part failed", zap.String("field", field), zap.Error(err))
			response.Internal(c, "failed to accept upload")
			return
		}
		payload.TempFiles = append(payload.TempFiles, dst)
		switch field {
		case FieldTrace:
			payload.TracePath = dst
		case FieldAudio:
			payload.AudioPath = dst
		case FieldMetadata:
			payload.MetadataPath = dst
		}
	}

	rec := &models.PendingRecord{FileRoot: fileRoot, Email: id.Email, ProcessingStatus: models.StatusProcessing}
	peekMetadata(payload.MetadataPath, rec)
	if err := h.pending.Insert(ctx, rec); err != nil {
		removeFiles(log, payload.TempFiles)
		log.Error("insert pending record failed", zap.Error(err))
		response.Internal(c, "failed to accept upload")
		return
	}

	response.OK(c, gin.H{"fileRoot": fileRoot})
	c.Writer.Flush()

	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	if err := h.dispatcher.EnqueueIngest(enqueueCtx, payload); err != nil {
		log.Error("enqueue ingest job failed", zap.Error(err))
		if markErr := h.pending.MarkFailed(enqueueCtx, fileRoot); markErr != nil {
			log.Error("mark pending record failed", zap.Error(markErr))
		}
		removeFiles(log, payload.TempFiles)
		return
	}
	log.Info("upload admitted", zap.Int("parts", len(parts)))
}

// peekMetadata copies title, tag and description into rec when the sidecar parses. Errors are
// left for the pipeline to report.
func peekMetadata(path string, rec *models.PendingRecord) {
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	var meta struct {
		Title       string `json:"title"`
		Tag         string `json:"tag"`
		Description string `json:"description"`
	}
	if json.NewDecoder(io.LimitReader(f, maxMetadataPeek)).Decode(&meta) == nil {
		rec.Title, rec.Tag, rec.Description = meta.Title, meta.Tag, meta.Description
	}
}

func removeFiles(log *zap.Logger, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove temp upload", zap.String("path", p), zap.Error(err))
		}
	}
}
