package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/pkg/metrics"
)

// Metrics observes handler latency per service+path, per the teacher's
// internal/middleware/metrics.go generalized with a service label since
// this system runs several binaries rather than one gateway.
func Metrics(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metrics.RequestLatency.WithLabelValues(service, path).Observe(duration)
	}
}
