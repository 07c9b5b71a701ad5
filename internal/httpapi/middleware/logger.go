package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/medchat/internal/logging"
)

// Logger writes one access line per request.
func Logger(l *log.Entry) gin.HandlerFunc {
	l = logging.Or(l)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := l.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"cost":       time.Since(start).String(),
			"request_id": c.GetString(RequestIDKey),
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request")
		case c.Writer.Status() >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
