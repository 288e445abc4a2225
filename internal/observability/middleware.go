package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// CallerHeader is logged with each request when present.
const CallerHeader = "X-Spawn-Caller"

// RequestLogger emits one http_request event per request, leveled by status.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zerolog.InfoLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.WarnLevel
		}

		event := logger.WithLevel(level).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Int("bytes", c.Writer.Size())
		if caller := c.GetHeader(CallerHeader); caller != "" {
			event = event.Str("caller", caller)
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			event = event.Str("trace_id", sc.TraceID().String())
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("http_request")
	}
}

// RequestMetricsMiddleware records request counts and latency per route template.
func RequestMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(service, c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

// routePath keeps unit ids out of metric labels.
func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}
