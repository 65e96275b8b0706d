package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/decoupling-detector/internal/logging"
	"github.com/irfndi/decoupling-detector/internal/metrics"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs every request through logrus and counts it in the
// metrics registry when one is given.
func RequestLogger(logger logrus.FieldLogger, registry *metrics.MetricsRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		logging.LogAPIRequest(logger, c.Request.Method, route, status, time.Since(start).Milliseconds(), GetRequestID(c))
		if registry != nil {
			registry.RecordHTTPRequest(c.Request.Method, route, status)
		}
	}
}
