package recordings

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codereplay/backend/internal/models"
	"github.com/codereplay/backend/pkg/response"
)

// PageSize is the fixed number of recordings per search page.
const PageSize = 10

// Store is the persistence the handler needs.
type Store interface {
	FindByFileRoot(ctx context.Context, fileRoot int64) (*models.RecordingSummary, error)
	FindMatching(ctx context.Context, p Predicate, page, pageSize int) ([]models.RecordingSummary, error)
	CountMatching(ctx context.Context, p Predicate) (int64, error)
}

// ProfileLookup resolves owner emails to public profiles.
type ProfileLookup interface {
	PublicProfiles(ctx context.Context, emails []string) (map[string]models.UserPublic, error)
}

// RecordingView is the outward shape of a recording: the summary plus its owner's profile.
type RecordingView struct {
	models.RecordingSummary
	User *models.UserPublic `json:"user"`
}

// Handler serves the recording lookup endpoints.
type Handler struct {
	store    Store
	profiles ProfileLookup
	logger   *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(store Store, profiles ProfileLookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, profiles: profiles, logger: logger}
}

// Find handles GET /recordings/find/:fileRoot.
func (h *Handler) Find(c *gin.Context) {
	fileRoot, err := strconv.ParseInt(c.Param("fileRoot"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid fileRoot")
		return
	}
	s, err := h.store.FindByFileRoot(c.Request.Context(), fileRoot)
	if err != nil {
		h.logger.Error("find recording failed", zap.Error(err), zap.Int64("file_root", fileRoot))
		response.Internal(c, "failed to find recording")
		return
	}
	if s == nil {
		response.NotFound(c, "recording not found")
		return
	}
	views, err := h.withProfiles(c.Request.Context(), []models.RecordingSummary{*s})
	if err != nil {
		h.logger.Error("load owner profile failed", zap.Error(err), zap.Int64("file_root", fileRoot))
		response.Internal(c, "failed to find recording")
		return
	}
	response.OK(c, gin.H{"recording": views[0]})
}

// Search handles GET /recordings/search/:query/:page.
func (h *Handler) Search(c *gin.Context) {
	p, ok := h.predicate(c)
	if !ok {
		return
	}
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || (page < 1 && page != AllPages) {
		response.BadRequest(c, "page must be a positive integer or -1")
		return
	}
	list, err := h.store.FindMatching(c.Request.Context(), p, page, PageSize)
	if err != nil {
		h.queryFailed(c, err, p, "failed to search recordings")
		return
	}
	views, err := h.withProfiles(c.Request.Context(), list)
	if err != nil {
		h.logger.Error("load owner profiles failed", zap.Error(err))
		response.Internal(c, "failed to search recordings")
		return
	}
	response.OK(c, gin.H{"recordings": views})
}

// Count handles GET /recordings/count/:query.
func (h *Handler) Count(c *gin.Context) {
	p, ok := h.predicate(c)
	if !ok {
		return
	}
	n, err := h.store.CountMatching(c.Request.Context(), p)
	if err != nil {
		h.queryFailed(c, err, p, "failed to count recordings")
		return
	}
	response.OK(c, gin.H{"count": n})
}

func (h *Handler) queryFailed(c *gin.Context, err error, p Predicate, msg string) {
	if errors.Is(err, ErrInvalidFilter) {
		response.BadRequest(c, err.Error())
		return
	}
	h.logger.Error("recording query failed", zap.Error(err), zap.String("filter", p.SQL))
	response.Internal(c, msg)
}

func (h *Handler) predicate(c *gin.Context) (Predicate, bool) {
	p, err := ParseFilter(c.Param("query"))
	if err != nil {
		if errors.Is(err, ErrInvalidFilter) {
			response.BadRequest(c, err.Error())
		} else {
			response.Internal(c, "failed to parse filter")
		}
		return Predicate{}, false
	}
	return p, true
}

func (h *Handler) withProfiles(ctx context.Context, list []models.RecordingSummary) ([]RecordingView, error) {
	seen := make(map[string]struct{}, len(list))
	emails := make([]string, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s.Email]; !ok {
			seen[s.Email] = struct{}{}
			emails = append(emails, s.Email)
		}
	}
	profiles, err := h.profiles.PublicProfiles(ctx, emails)
	if err != nil {
		return nil, err
	}
	views := make([]RecordingView, len(list))
	for i, s := range list {
		views[i] = RecordingView{RecordingSummary: s}
		if p, ok := profiles[s.Email]; ok {
			p := p
			views[i].User = &p
		}
	}
	return views, nil
}
