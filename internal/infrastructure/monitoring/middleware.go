package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for admin request metrics
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(c.Request.Method, path, status, time.Since(start))
	}
}

// Timer measures one message hook invocation
type Timer struct {
	start   time.Time
	metrics *Metrics
	role    string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, role string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		role:    role,
	}
}

// Stop stops the timer and records the invocation with its status
func (t *Timer) Stop(status string) time.Duration {
	d := time.Since(t.start)
	t.metrics.RecordMessage(t.role, status, d)
	return d
}
