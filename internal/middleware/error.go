package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/apperrors"
	"github.com/dgc-backbone/dgc/internal/pkg/logger"
)

// ErrorHandler renders the last gin error as the standard {error, message,
// statusCode?} envelope and logs it, generalizing the teacher's
// internal/middleware/error.go beyond its five original error types.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			appErr = apperrors.New(apperrors.CodeInternal, err.Error(), err)
		}

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.ErrCode,
			"client_ip", c.ClientIP(),
		}
		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "request failed", fields...)
		} else {
			logger.Warn(string(appErr.ErrCode), fields...)
		}

		c.JSON(appErr.HTTPStatus, appErr)
	}
}
