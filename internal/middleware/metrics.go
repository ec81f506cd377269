// metrics.go records the two Prometheus HTTP metrics for every request. The
// path label uses c.FullPath(), the matched route template, so user-supplied
// URL segments never inflate label cardinality; unmatched routes (404/405)
// record as "<no-route>".
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/telemetry"
)

// Metrics records http_requests_total and http_request_duration_seconds.
// Register after gin.Recovery() and RequestID so error-handler status codes
// are captured.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
