package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notifyhub/pkg/otel"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type RouterConfig struct {
	JWTSecret string
	OpenRate  float64
	OpenBurst int
	Readiness map[string]ReadinessCheck
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	streamHandler *StreamHandler,
	notificationHandler *NotificationHandler,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware(logger))
	// 未启用 OTel 时为 noop tracer，延迟指标照常记录
	r.Use(otel.GinMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, check := range cfg.Readiness {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	api := r.Group("/api/notifications")
	api.Use(AuthMiddleware(cfg.JWTSecret))
	{
		api.GET("/stream", RateLimitMiddleware(cfg.OpenRate, cfg.OpenBurst), streamHandler.Stream)
		api.GET("/unread", notificationHandler.Unread)
		api.POST("/:id/read", notificationHandler.MarkRead)
		api.POST("/read-all", notificationHandler.MarkAllRead)
	}

	return &Router{Engine: r}
}
