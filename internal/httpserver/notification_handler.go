package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/logger"
)

const maxUnreadLimit = 200

type NotificationStore interface {
	ListUnread(ctx context.Context, userID string, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// NotificationHandler serves the catch-up and read-state endpoints.
type NotificationHandler struct {
	store  NotificationStore
	logger *zap.Logger
}

func NewNotificationHandler(store NotificationStore, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{store: store, logger: logger}
}

func (h *NotificationHandler) Unread(c *gin.Context) {
	userID := c.GetString(userIDKey)

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxUnreadLimit)
	}

	list, err := h.store.ListUnread(c.Request.Context(), userID, limit)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to list unread notifications",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": list,
		"count":         len(list),
	})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := c.GetString(userIDKey)
	id := c.Param("id")

	err := h.store.MarkRead(c.Request.Context(), userID, id)
	switch {
	case errors.Is(err, repository.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	case err != nil:
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to mark notification read",
			zap.String("user_id", userID),
			zap.String("notification_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := c.GetString(userIDKey)

	n, err := h.store.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to mark all notifications read",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
