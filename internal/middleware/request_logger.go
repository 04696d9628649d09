package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"classroom/pkg/logger"
)

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// query не пишем: там может быть токен монитора
		path := c.Request.URL.Path

		c.Next()

		statusCode := c.Writer.Status()
		args := []any{
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", statusCode,
			"latency", time.Since(start).String(),
		}
		if statusCode >= 500 {
			log.Warn("HTTP request", args...)
			return
		}
		log.Debug("HTTP request", args...)
	}
}
