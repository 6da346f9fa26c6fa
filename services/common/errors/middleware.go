package errors

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yashrajoria/fitmeals-backend/services/common/logger"
)

// ErrorMiddleware renders the last error attached with c.Error. Only the
// kind, code, message and field list reach the client; causes are logged.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		var appErr *Error
		if !stderrors.As(err, &appErr) {
			appErr = Internal("Internal server error", err)
		}

		fields := []zap.Field{
			zap.String("kind", string(appErr.Kind)),
			zap.String("path", c.Request.URL.Path),
		}
		switch appErr.Kind {
		case KindInternal, KindExternal:
			logger.Error(c, appErr.Message, appErr.Err, fields...)
		default:
			logger.Debug(c, appErr.Message, fields...)
		}

		c.AbortWithStatusJSON(appErr.Code, &Error{
			Kind:    appErr.Kind,
			Code:    appErr.Code,
			Message: appErr.Message,
			Fields:  appErr.Fields,
		})
	}
}
