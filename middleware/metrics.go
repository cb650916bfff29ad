package middleware

import (
	"strconv"
	"time"

	"gridwatch/metrics"

	"github.com/gin-gonic/gin"
)

// Metrics records request duration per matched route
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestDurationSeconds.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
