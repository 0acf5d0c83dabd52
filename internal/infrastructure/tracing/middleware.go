package tracing

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/id"
)

// Header names carrying trace context on API responses.
const (
	TraceHeader   = "X-Trace-ID"
	RequestHeader = "X-Request-ID"
)

const requestIDKey = "request_id"

// HTTPMiddleware tags every request with a request ID and the kernel's trace
// ID, echoing both as response headers. A client-supplied request ID is kept
// when it is a valid ULID.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := id.RequestID(c.GetHeader(RequestHeader))
		if !id.IsValid(string(reqID)) {
			reqID = id.NewRequestID()
		}
		c.Set(requestIDKey, reqID)
		c.Header(TraceHeader, string(tracer.traceID))
		c.Header(RequestHeader, string(reqID))

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("trace_id", string(tracer.traceID)),
			zap.String("request_id", string(reqID)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			tracer.logger.Warn("request completed with error", append(fields, zap.Error(c.Errors.Last()))...)
			return
		}
		tracer.logger.Debug("request completed", fields...)
	}
}

// RequestID returns the ID HTTPMiddleware assigned to the request.
func RequestID(c *gin.Context) id.RequestID {
	v, _ := c.Get(requestIDKey)
	r, _ := v.(id.RequestID)
	return r
}
