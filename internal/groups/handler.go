package groups

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codereplay/backend/internal/middleware"
	"github.com/codereplay/backend/internal/models"
	"github.com/codereplay/backend/pkg/response"
)

// Store is the persistence the handler needs.
type Store interface {
	Create(ctx context.Context, name, creator string) (*models.GroupMembership, error)
	ListForUser(ctx context.Context, email string) ([]models.GroupMembership, error)
	Join(ctx context.Context, groupID uuid.UUID, email string) error
	SetActive(ctx context.Context, groupID uuid.UUID, email string, active bool) error
}

// CreateRequest is the body for POST /recording_group.
type CreateRequest struct {
	Name string `json:"name" binding:"required"`
}

// JoinRequest is the body for POST /join_group.
type JoinRequest struct {
	GroupID string `json:"groupId" binding:"required"`
}

// Handler handles recording group HTTP endpoints. Every route requires an identity.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a groups handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// List handles GET /recording_group.
func (h *Handler) List(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	list, err := h.store.ListForUser(c.Request.Context(), id.Email)
	if err != nil {
		h.logger.Error("list groups failed", zap.Error(err), zap.String("email", id.Email))
		response.Internal(c, "failed to list groups")
		return
	}
	response.OK(c, gin.H{"groups": list})
}

// Create handles POST /recording_group.
func (h *Handler) Create(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		response.BadRequest(c, "name is required")
		return
	}
	g, err := h.store.Create(c.Request.Context(), strings.TrimSpace(req.Name), id.Email)
	if err != nil {
		h.logger.Error("create group failed", zap.Error(err), zap.String("email", id.Email))
		response.Internal(c, "failed to create group")
		return
	}
	response.OK(c, gin.H{"newGroup": g})
}

// Join handles POST /join_group.
func (h *Handler) Join(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "groupId is required")
		return
	}
	groupID, err := uuid.Parse(req.GroupID)
	if err != nil {
		c.String(http.StatusNotFound, "group not found")
		return
	}
	if err := h.store.Join(c.Request.Context(), groupID, id.Email); err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			c.String(http.StatusNotFound, "group not found")
			return
		}
		h.logger.Error("join group failed", zap.Error(err), zap.String("group_id", groupID.String()))
		response.Internal(c, "failed to join group")
		return
	}
	response.OK(c, response.Empty)
}

// SetStatus handles POST /update_group/:id/:status where status is active or inactive.
func (h *Handler) SetStatus(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}
	active, ok := parseStatus(c.Param("status"))
	if !ok {
		response.BadRequest(c, "status must be active or inactive")
		return
	}
	err = h.store.SetActive(c.Request.Context(), groupID, id.Email, active)
	switch {
	case err == nil:
		response.OK(c, response.Empty)
	case errors.Is(err, ErrGroupNotFound):
		response.NotFound(c, "group not found")
	case errors.Is(err, ErrNotCreator):
		response.Forbidden(c, err.Error())
	default:
		h.logger.Error("update group failed", zap.Error(err), zap.String("group_id", groupID.String()))
		response.Internal(c, "failed to update group")
	}
}

func parseStatus(s string) (active bool, ok bool) {
	switch strings.ToLower(s) {
	case "active", "true", "1":
		return true, true
	case "inactive", "false", "0":
		return false, true
	}
	return false, false
}
