package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/registry"
	"notifyhub/internal/stream"
	"notifyhub/pkg/logger"
)

type StreamOptions struct {
	Session      stream.Config
	SeenCapacity int
	// 0 disables the per-write deadline
	WriteTimeout time.Duration
}

// StreamHandler serves GET /api/notifications/stream.
type StreamHandler struct {
	registry *registry.Registry
	mailbox  stream.Mailbox
	opts     StreamOptions
	logger   *zap.Logger
}

func NewStreamHandler(reg *registry.Registry, mailbox stream.Mailbox, opts StreamOptions, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		registry: reg,
		mailbox:  mailbox,
		opts:     opts,
		logger:   logger,
	}
}

// Stream blocks for the lifetime of the connection. Auth already ran.
func (h *StreamHandler) Stream(c *gin.Context) {
	userID := c.GetString(userIDKey)
	log := logger.WithTrace(c.Request.Context(), h.logger)

	conn := stream.NewSSEConn(c.Writer, h.opts.SeenCapacity, h.opts.WriteTimeout)
	if err := conn.WriteHeaders(); err != nil {
		log.Warn("Failed to open event stream", zap.String("user_id", userID), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	session := stream.NewSession(userID, conn, h.registry, h.mailbox, h.opts.Session, log)
	if err := session.Run(c.Request.Context()); err != nil {
		log.Debug("Stream ended with error", zap.String("user_id", userID), zap.Error(err))
	}
	// gin 回收 c.Writer 之前，确保其他 goroutine 的写入已结束
	conn.Close()
}
