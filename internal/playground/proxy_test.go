package playground

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func router(p *Proxy) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.POST("/playground", p.Submit)
	return e
}

func post(e *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/playground", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestSubmitRelaysUpstream(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"stdout":"hi\n"}`))
	}))
	defer upstream.Close()

	w := post(router(NewProxy(upstream.URL, time.Second, nil)), `{"language":"python","code":"print('hi')"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"stdout":"hi\n"}`, w.Body.String())
	assert.Equal(t, `{"language":"python","code":"print('hi')"}`, got)
}

func TestSubmitNotConfigured(t *testing.T) {
	w := post(router(NewProxy("", time.Second, nil)), `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubmitUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	w := post(router(NewProxy(url, time.Second, nil)), `{}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	w := post(router(NewProxy(upstream.URL, 50*time.Millisecond, nil)), `{}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSubmitTooLarge(t *testing.T) {
	w := post(router(NewProxy("http://127.0.0.1:1", time.Second, nil)), strings.Repeat("a", maxSubmissionBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
