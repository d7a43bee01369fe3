package apperr

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Respond writes err as a JSON error body. Unclassified errors are logged and
// hidden behind a generic message.
func Respond(c *gin.Context, logger *zap.Logger, err error) {
	var e *Error
	if !errors.As(err, &e) {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(HTTPStatus(KindInternal), gin.H{
			"error": "internal server error",
			"code":  KindInternal,
		})
		return
	}
	if e.Kind == KindInternal {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(HTTPStatus(e.Kind), gin.H{
		"error": e.Message,
		"code":  e.Kind,
	})
}
