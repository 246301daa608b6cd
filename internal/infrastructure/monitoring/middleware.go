package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware recording status server requests.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(method, path, status, time.Since(start))
	}
}

// Timer measures one operator call.
type Timer struct {
	start    time.Time
	metrics  *Metrics
	pipeline string
	operator string
	phase    string
}

// NewTimer starts timing operator in phase.
func NewTimer(metrics *Metrics, pipeline, operator, phase string) *Timer {
	return &Timer{
		start:    time.Now(),
		metrics:  metrics,
		pipeline: pipeline,
		operator: operator,
		phase:    phase,
	}
}

// Stop records the duration and, when err is non-nil, the failure.
func (t *Timer) Stop(err error) time.Duration {
	duration := time.Since(t.start)
	t.metrics.RecordOperator(t.pipeline, t.operator, t.phase, duration, err)
	return duration
}
