package downloads

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codereplay/backend/pkg/response"
	"github.com/codereplay/backend/pkg/storage"
)

// Presigner issues temporary URLs for mirrored artifacts.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Handler serves GET /downloads/:name.
type Handler struct {
	local     *storage.Local
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates a downloads handler. With a presigner, requests are redirected to remote
// storage; otherwise files are served from local.
func NewHandler(local *storage.Local, presigner Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{local: local, presigner: presigner, logger: logger}
}

// Get handles GET /downloads/:name where name is {fileRoot}.{json|mp3|mp4|webm}.
func (h *Handler) Get(c *gin.Context) {
	fileRoot, ext, err := storage.ParseArtifactName(c.Param("name"))
	if err != nil {
		response.NotFound(c, "artifact not found")
		return
	}
	name := storage.ArtifactName(fileRoot, ext)

	if h.presigner != nil {
		url, err := h.presigner.PresignDownload(c.Request.Context(), storage.ArtifactKey(name))
		if err != nil {
			h.logger.Error("presign artifact download failed", zap.Error(err), zap.String("name", name))
			response.Internal(c, "failed to generate download URL")
			return
		}
		c.Redirect(http.StatusFound, url)
		return
	}

	path := h.local.Path(name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("stat artifact", zap.Error(err), zap.String("path", path))
		}
		response.NotFound(c, "artifact not found")
		return
	}
	c.Header("Content-Type", storage.ContentTypeForArtifact(name))
	c.File(path)
}
