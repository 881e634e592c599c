// Package playground forwards code execution requests to the remote playground service.
package playground

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codereplay/backend/pkg/response"
)

const (
	maxSubmissionBytes = 1 << 20
	maxResultBytes     = 8 << 20
)

// Proxy relays POST /playground to the configured upstream.
type Proxy struct {
	upstream string
	client   *http.Client
	logger   *zap.Logger
}

// NewProxy creates a proxy. An empty upstream disables it.
func NewProxy(upstream string, timeout time.Duration, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		upstream: strings.TrimRight(upstream, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Submit handles POST /playground: the JSON body goes upstream and the upstream status, content
// type and body come back unchanged.
func (p *Proxy) Submit(c *gin.Context) {
	if p.upstream == "" {
		response.ServiceUnavailable(c, "playground is not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSubmissionBytes+1))
	if err != nil {
		response.BadRequest(c, "failed to read submission")
		return
	}
	if len(body) > maxSubmissionBytes {
		response.TooLarge(c, "submission too large")
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, p.upstream, bytes.NewReader(body))
	if err != nil {
		p.logger.Error("build playground request", zap.Error(err))
		response.Internal(c, "failed to reach playground")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("playground request failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		response.BadGateway(c, "playground unavailable")
		return
	}
	defer resp.Body.Close()

	result, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		p.logger.Warn("read playground response", zap.Error(err))
		response.BadGateway(c, "playground unavailable")
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	p.logger.Debug("playground run", zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))
	c.Data(resp.StatusCode, contentType, result)
}
