package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loykin/hookd/internal/connector"
	"github.com/loykin/hookd/internal/metrics"
	"github.com/loykin/hookd/internal/webhook"
)

const requestIDHeader = "X-Request-Id"

func (r *Router) handleInbound(c *gin.Context) {
	start := time.Now()
	code := r.serveInbound(c)
	metrics.ObserveInbound(code, time.Since(start).Seconds())
}

// serveInbound answers one webhook call and returns the status written.
func (r *Router) serveInbound(c *gin.Context) int {
	path := webhook.NormalizePath(c.Param("path"))
	l := r.reg.GetActiveWebhook(path)
	if l == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no webhook registered for path", Code: webhook.TextCodeUnknownPath})
		return http.StatusNotFound
	}
	if h := l.Context.Health(); !h.IsUp() {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: h.String()})
		return http.StatusServiceUnavailable
	}
	if !r.limits.allow(path) {
		writeJSON(c, http.StatusTooManyRequests, errorResp{Error: "rate limit exceeded"})
		return http.StatusTooManyRequests
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, r.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(c, http.StatusRequestEntityTooLarge, errorResp{Error: "request body too large"})
			return http.StatusRequestEntityTooLarge
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "failed to read request body"})
		return http.StatusBadRequest
	}

	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(requestIDHeader, id)

	req := &webhook.Request{
		ID:     id,
		Method: c.Request.Method,
		Path:   path,
		URL:    c.Request.URL.String(),
		Header: c.Request.Header.Clone(),
		Query:  c.Request.URL.Query(),
		Body:   body,
	}
	l.Context.Log(connector.NewActivity(connector.SeverityInfo, req.Method,
		fmt.Sprintf("URL: %s (request %s)", req.URL, id)))

	ctx := c.Request.Context()
	if v, ok := l.Executable.(webhook.Verifier); ok {
		if err := v.Verify(ctx, req); err != nil {
			l.Context.Log(connector.NewActivity(connector.SeverityWarn, "Verification",
				fmt.Sprintf("request %s rejected: %v", id, err)))
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "webhook verification failed"})
			return http.StatusUnauthorized
		}
	}

	t, ok := l.Executable.(webhook.Trigger)
	if !ok {
		writeJSON(c, http.StatusAccepted, map[string]any{"accepted": true, "request_id": id})
		return http.StatusAccepted
	}
	resp, err := t.Trigger(ctx, req)
	if err != nil {
		l.Context.Log(connector.NewActivity(connector.SeverityError, "Trigger",
			fmt.Sprintf("request %s failed: %v", id, err)))
		return r.writeError(c, err)
	}
	if resp == nil {
		writeJSON(c, http.StatusAccepted, map[string]any{"accepted": true, "request_id": id})
		return http.StatusAccepted
	}
	return writeResponse(c, resp)
}

func writeResponse(c *gin.Context, resp *webhook.Response) int {
	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	code := resp.Status
	if code == 0 {
		code = http.StatusOK
	}
	switch b := resp.Body.(type) {
	case nil:
		c.Status(code)
	case []byte:
		c.Data(code, c.Writer.Header().Get("Content-Type"), b)
	case string:
		c.String(code, "%s", b)
	default:
		writeJSON(c, code, b)
	}
	return code
}
