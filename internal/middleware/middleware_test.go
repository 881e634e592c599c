package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/codereplay/backend/internal/auth"
	"github.com/codereplay/backend/internal/models"
)

type stubResolver struct {
	id  models.Identity
	err error
}

func (s stubResolver) FromRequest(*http.Request) (models.Identity, error) { return s.id, s.err }

func newRouter(r IdentityResolver, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(Identity(r, nil))
	handlers := append(extra, func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, id.Email)
	})
	e.GET("/", handlers...)
	return e
}

func do(e *gin.Engine, method string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestIdentityAttachesCaller(t *testing.T) {
	w := do(newRouter(stubResolver{id: models.Identity{Email: "a@b.c"}}), http.MethodGet, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@b.c", w.Body.String())
}

func TestIdentityNeverAborts(t *testing.T) {
	for _, err := range []error{auth.ErrNoSession, auth.ErrInvalidToken, errors.New("boom")} {
		w := do(newRouter(stubResolver{err: err}), http.MethodGet, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "anonymous", w.Body.String())
	}
}

func TestRequireIdentity(t *testing.T) {
	w := do(newRouter(stubResolver{err: auth.ErrNoSession}, RequireIdentity()), http.MethodGet, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"not signed in"}`, w.Body.String())

	w = do(newRouter(stubResolver{id: models.Identity{Email: "a@b.c"}}, RequireIdentity()), http.MethodGet, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(CORS("http://localhost:3000"))
	e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(e, http.MethodGet, map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = do(e, http.MethodGet, map[string]string{"Origin": "http://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = do(e, http.MethodOptions, map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLoggerLevelsAndIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	e := gin.New()
	e.Use(Identity(stubResolver{id: models.Identity{Email: "dev@example.com"}}, nil))
	e.Use(Logger(zap.New(core)))
	e.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	e.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	e.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/missing", "/broken"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "dev@example.com", entries[0].ContextMap()["email"])
	assert.Equal(t, "/broken", entries[2].ContextMap()["path"])
}
