package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// TraceFilter keeps health and metrics endpoints out of the trace pipeline.
func TraceFilter(r *http.Request) bool {
	switch r.URL.Path {
	case "/health", "/metrics":
		return false
	}
	return true
}

// RequestLogger logs one line per request, with the trace id when present.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	log := logging.WithComponent(logger, "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}

		entry := log.WithFields(fields)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("HTTP request failed")
		case !TraceFilter(c.Request):
			entry.Debug("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}
