package users

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codereplay/backend/internal/middleware"
	"github.com/codereplay/backend/internal/models"
	"github.com/codereplay/backend/pkg/response"
)

// Store is the persistence the handler needs.
type Store interface {
	Upsert(ctx context.Context, u *models.User) error
}

// ProfileLookup resolves owner emails to public profiles for API responses.
type ProfileLookup interface {
	PublicProfiles(ctx context.Context, emails []string) (map[string]models.UserPublic, error)
}

// UpdateRequest is the optional body of POST /user.
type UpdateRequest struct {
	Name    *string `json:"name"`
	Picture *string `json:"picture"`
}

// Handler handles user HTTP endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a users handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Me handles GET /. Anonymous callers get {"user": null}.
func (h *Handler) Me(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.OK(c, gin.H{"user": nil})
		return
	}
	response.OK(c, gin.H{"user": id})
}

// Update handles POST /user: stores the caller's profile so it can be shown next to their recordings.
func (h *Handler) Update(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "not signed in")
		return
	}
	u := &models.User{Email: id.Email, Name: id.Name, Picture: id.Picture}
	if c.Request.ContentLength != 0 {
		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
		if req.Name != nil {
			u.Name = *req.Name
		}
		if req.Picture != nil {
			u.Picture = *req.Picture
		}
	}
	if err := h.store.Upsert(c.Request.Context(), u); err != nil {
		h.logger.Error("upsert user failed", zap.Error(err), zap.String("email", u.Email))
		response.Internal(c, "failed to save user")
		return
	}
	response.OK(c, gin.H{"user": u})
}
