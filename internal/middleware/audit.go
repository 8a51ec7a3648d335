package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dgc-backbone/dgc/internal/pkg/logger"
)

type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// RequestAudit logs a structured line per request (method, path, status,
// latency, redacted request/response bodies), adapted from the teacher's
// internal/middleware/audit.go. Unlike the teacher's Postgres-backed audit
// trail, this is a best-effort structured log line — the durable audit
// trail each component owns (listing audit, freeze overrides, dispute
// history) is written explicitly by the owning service.
func RequestAudit(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := uuid.New().String()
		c.Header("X-Request-ID", reqID)

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(reqBody))
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		logger.Info("request",
			"service", service,
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"request_body", redact(reqBody),
			"response_body", redact([]byte(blw.body.String())),
		)
	}
}

var sensitiveKeys = map[string]bool{
	"signature":       true,
	"payloadhash":     true,
	"issuerprivatekey": true,
	"privatekey":      true,
	"servicetoken":    true,
	"evidence":        true,
}

func redact(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}
	redactValue(&data)
	out, err := json.Marshal(data)
	if err != nil {
		return "[redacted]"
	}
	return string(out)
}

func redactValue(v *interface{}) {
	switch raw := (*v).(type) {
	case map[string]interface{}:
		for key, val := range raw {
			if sensitiveKeys[strings.ToLower(strings.ReplaceAll(key, "_", ""))] {
				raw[key] = "***"
				continue
			}
			vv := val
			redactValue(&vv)
			raw[key] = vv
		}
	case []interface{}:
		for i, val := range raw {
			vv := val
			redactValue(&vv)
			raw[i] = vv
		}
	}
}
