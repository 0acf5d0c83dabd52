package monitoring

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records request count, latency and response size. Routes are
// labelled by their pattern so path parameters do not explode cardinality.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start), int64(c.Writer.Size()))
	}
}
