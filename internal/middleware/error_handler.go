package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom/pkg/errors"
	"classroom/pkg/logger"
)

func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем есть ли ошибки
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last()

		statusCode := errors.HTTPStatusFromError(err.Err)
		message := err.Error()
		if statusCode >= http.StatusInternalServerError {
			log.Error("Request failed", "error", err.Err, "method", c.Request.Method, "path", c.FullPath())
			message = errors.ErrInternalServer.Error()
		}

		c.JSON(statusCode, gin.H{
			"error": message,
		})
	}
}
