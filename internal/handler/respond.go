package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vidshare/backend/internal/apperror"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

const (
	msgInvalidBody  = "invalid request body"
	msgBodyTooLarge = "request body too large"
)

var errBodyTooLarge = errors.New(msgBodyTooLarge)

// bindError classifies a body binding failure. Bodies cut off by
// middleware.BodyLimit become errBodyTooLarge, everything else a 400.
func bindError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errBodyTooLarge
	}
	return apperror.Validation(msgInvalidBody)
}

// respondError writes {"error": msg} with the status that matches err's kind.
// Causes of 5xx errors are logged and never sent.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, errBodyTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgBodyTooLarge})
		return
	}

	status := apperror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Log.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": apperror.PublicMessage(err)})
}
