package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront-backend/internal/usecase"
)

func statusOf(kind string) int {
	switch kind {
	case usecase.KindValidation:
		return http.StatusBadRequest
	case usecase.KindUnauthorized:
		return http.StatusUnauthorized
	case usecase.KindNotFound:
		return http.StatusNotFound
	case usecase.KindConflict:
		return http.StatusConflict
	case usecase.KindState:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// fail writes the error envelope. Persistence causes are logged, never sent.
func (s *Server) fail(c *gin.Context, err error) {
	kind := usecase.KindOf(err)
	status := statusOf(kind)
	var wait *usecase.ErrWait
	if errors.As(err, &wait) {
		c.Header("Retry-After", strconv.Itoa(wait.Seconds()))
	}
	if kind == usecase.KindPersistence {
		s.log.Error("request failed",
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("path", c.FullPath()),
			zap.Error(cause(err)))
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":      kind,
			"message":   usecase.Message(err),
			"requestId": c.GetString(ctxRequestID),
		},
	})
}

func cause(err error) error {
	var pe *usecase.PersistenceError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err
	}
	return err
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	s.fail(c, usecase.ErrValidation(msg))
}
