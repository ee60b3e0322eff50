package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
)

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// writeError maps an error envelope onto its HTTP status and text code.
// Anything else becomes a 500 with a generic message.
func (r *Router) writeError(c *gin.Context, err error) int {
	rich := goerrors.MapToError(err, nil)
	code := rich.Code
	if code == 0 {
		code = 500
	}
	if code >= 500 {
		r.logger.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	writeJSON(c, code, errorResp{Error: rich.Message, Code: rich.TextCode})
	return code
}
