package pending

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codereplay/backend/internal/middleware"
	"github.com/codereplay/backend/internal/models"
	"github.com/codereplay/backend/pkg/response"
)

// PollStatuses are the statuses a client keeps notifying about.
var PollStatuses = []models.ProcessingStatus{models.StatusProcessing, models.StatusFailed}

// Store is the persistence the handler needs.
type Store interface {
	FindByStatusIn(ctx context.Context, email string, statuses []models.ProcessingStatus) ([]models.PendingRecordWithUser, error)
	MarkConfirmed(ctx context.Context, fileRoot int64, ownerEmail string) error
}

// Handler serves the pending upload endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a pending handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// List handles GET /recordings/pending. Anonymous callers get an empty list.
func (h *Handler) List(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.OK(c, gin.H{"pendingRecordings": []models.PendingRecordWithUser{}})
		return
	}
	list, err := h.store.FindByStatusIn(c.Request.Context(), id.Email, PollStatuses)
	if err != nil {
		h.logger.Error("list pending recordings failed", zap.Error(err), zap.String("email", id.Email))
		response.Internal(c, "failed to list pending recordings")
		return
	}
	response.OK(c, gin.H{"pendingRecordings": list})
}

// Confirm handles POST /confirm/:fileRoot. Only the owner can dismiss a failed record; anything
// else silently does nothing.
func (h *Handler) Confirm(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "not signed in")
		return
	}
	fileRoot, err := strconv.ParseInt(c.Param("fileRoot"), 10, 64)
	if err != nil || fileRoot <= 0 {
		response.BadRequest(c, "invalid fileRoot")
		return
	}
	if err := h.store.MarkConfirmed(c.Request.Context(), fileRoot, id.Email); err != nil {
		h.logger.Error("confirm pending recording failed", zap.Error(err), zap.Int64("file_root", fileRoot))
		response.Internal(c, "failed to confirm recording")
		return
	}
	response.OK(c, response.Empty)
}
