package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
)

// statusFor maps core errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repositories.ErrInvalidParticipants),
		errors.Is(err, repositories.ErrInvalidContent),
		errors.Is(err, models.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, repositories.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, repositories.ErrRoomNotFound),
		errors.Is(err, repositories.ErrNotificationNotFound),
		errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound
	case repositories.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", "1")
		msg = "temporarily unavailable"
	case http.StatusInternalServerError:
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
