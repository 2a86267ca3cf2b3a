package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tripbook/internal/monitor"
	"tripbook/pkg/log"
)

// Logger logs every request and feeds the HTTP metrics. Webhook routes go
// through here too, so a provider probing with garbage shows up in the
// access log.
func Logger(metrics *monitor.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		method := c.Request.Method

		if metrics != nil {
			// label by route pattern, not raw path, to keep cardinality down
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			metrics.RecordHTTPRequest(method, route, strconv.Itoa(statusCode))
			metrics.RecordHTTPDuration(method, route, latency)
		}

		if raw != "" {
			path = path + "?" + raw
		}

		fields := map[string]interface{}{
			"status":  statusCode,
			"method":  method,
			"path":    path,
			"ip":      c.ClientIP(),
			"latency": latency,
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch {
		case statusCode >= 500:
			log.WithFields(fields).Error("Server error")
		case statusCode >= 400:
			log.WithFields(fields).Warn("Client error")
		default:
			log.WithFields(fields).Info("Request completed")
		}
	}
}
