package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/config"
	"notifyhub/internal/httpserver"
	"notifyhub/internal/mqhandler"
	"notifyhub/internal/pubsub"
	"notifyhub/internal/queue"
	"notifyhub/internal/registry"
	"notifyhub/internal/repository"
	"notifyhub/internal/service"
	"notifyhub/internal/stream"
	"notifyhub/pkg/circuitbreaker"
	"notifyhub/pkg/db"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/otel"
	redisclient "notifyhub/pkg/redis"
	"notifyhub/pkg/util"
)

var version = "dev"

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting notifyhub...",
		zap.String("version", version),
		zap.String("db_host", cfg.DB.Host),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("pubsub_backend", cfg.PubSub.Backend),
		zap.Bool("consumer_enabled", cfg.Consumer.Enabled),
	)

	// rootCtx 在关停时取消，所有长连接随之进入 Closing
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Tracing
	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(rootCtx, cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	if err := repository.EnsureSchema(rootCtx, dbConn); err != nil {
		log.Fatal("Failed to apply schema", zap.Error(err))
	}
	log.Info("Database connection established successfully")

	// Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	teamRepo := repository.NewTeamRepository(dbConn, log)

	// Delivery plumbing
	userQueue := queue.NewRedisQueue(rdb, queue.Options{
		KeyPrefix: cfg.Queue.KeyPrefix,
		MaxLength: cfg.Queue.MaxLength,
	}, log)
	connRegistry := registry.New()
	deduper := util.NewDeduper(rdb, cfg.Dedup.TTL, log)

	adapter, realtimePublisher := newPubSubAdapter(cfg, rdb, log)
	if realtimePublisher != nil {
		defer realtimePublisher.Close()
	}

	dispatcherOpts := service.Options{
		Team:          teamRepo,
		Deduper:       deduper,
		PubSubTimeout: cfg.PubSub.Timeout,
	}
	if adapter != nil {
		dispatcherOpts.PubSub = adapter
	}
	dispatcher := service.NewDispatcher(notificationRepo, userQueue, connRegistry, dispatcherOpts, log)

	// MQ Consumer for notification.publish
	var consumer *mq.Consumer
	if cfg.Consumer.Enabled {
		consumer = startConsumer(rootCtx, cfg, rdb, dispatcher, log)
		defer consumer.Close()
	}

	// Sweeper
	sweeper := stream.NewSweeper(connRegistry, cfg.Stream.SweepInterval, cfg.Stream.StaleAfter, log)
	go sweeper.Run(rootCtx)

	// HTTP Server
	streamHandler := httpserver.NewStreamHandler(connRegistry, userQueue, httpserver.StreamOptions{
		Session: stream.Config{
			PollInterval:      cfg.Stream.PollInterval,
			PollBatch:         cfg.Stream.PollBatch,
			PollErrorBackoff:  cfg.Stream.PollErrorBackoff,
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		},
		SeenCapacity: cfg.Stream.SeenCapacity,
		WriteTimeout: cfg.Stream.WriteTimeout,
	}, log)
	notificationHandler := httpserver.NewNotificationHandler(notificationRepo, log)

	readiness := map[string]httpserver.ReadinessCheck{
		"db":    dbConn.Ping,
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}
	if realtimePublisher != nil {
		readiness["mq"] = func(context.Context) error {
			if !realtimePublisher.IsConnected() {
				return errors.New("realtime publisher disconnected")
			}
			return nil
		}
	}

	router := httpserver.NewRouter(streamHandler, notificationHandler, httpserver.RouterConfig{
		JWTSecret: cfg.JWT.Secret,
		OpenRate:  cfg.Stream.OpenRatePerSecond,
		OpenBurst: cfg.Stream.OpenBurst,
		Readiness: readiness,
	}, log)

	// 不设置 WriteTimeout：SSE 连接是长连接
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("notifyhub is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notifyhub gracefully...")

	if consumer != nil {
		consumer.Stop()
	}

	// Close streams, then HTTP server
	rootCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	// Drain in-flight pub/sub publishes
	dispatcher.Close()

	log.Info("notifyhub shutdown complete")
}

// newPubSubAdapter builds the configured backend. The returned publisher, if
// any, must be closed by the caller.
func newPubSubAdapter(cfg *config.Config, rdb *goredis.Client, log *zap.Logger) (*pubsub.Adapter, *mq.Publisher) {
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold:    cfg.PubSub.Breaker.FailureThreshold,
		SuccessThreshold:    2,
		Timeout:             cfg.PubSub.Breaker.OpenTimeout,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(from, to circuitbreaker.State) {
			log.Warn("Pub/sub circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	switch cfg.PubSub.Backend {
	case "amqp":
		publisher, err := mq.NewPublisher(cfg.MQ.URL, mq.RealtimeExchangeName)
		if err != nil {
			log.Fatal("Failed to init realtime publisher", zap.Error(err))
		}
		return pubsub.NewAdapter(pubsub.NewAMQPBackend(publisher), cfg.PubSub.Namespace, breaker, log), publisher
	case "redis":
		return pubsub.NewAdapter(pubsub.NewRedisBackend(rdb), cfg.PubSub.Namespace, breaker, log), nil
	default:
		log.Info("Pub/sub delivery disabled")
		return nil, nil
	}
}

func startConsumer(ctx context.Context, cfg *config.Config, rdb *goredis.Client, dispatcher *service.Dispatcher, log *zap.Logger) *mq.Consumer {
	log.Info("Initializing MQ consumer for notification.publish...",
		zap.String("queue", mqcontracts.QueueNotificationPublish),
		zap.String("routing_key", mqcontracts.RoutingKeyNotificationPublish),
	)

	dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL, mq.ExchangeName)
	if err != nil {
		log.Fatal("Failed to init DLQ publisher", zap.Error(err))
	}

	consumer, err := mq.NewConsumer(cfg.MQ.URL, mqcontracts.QueueNotificationPublish, mqcontracts.RoutingKeyNotificationPublish, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	if err := consumer.DeclareDLQ(); err != nil {
		log.Fatal("Failed to declare DLQ", zap.Error(err))
	}

	handler := mqhandler.NewNotificationPublishHandler(
		dispatcher,
		dlqPublisher,
		util.NewRetryCounter(rdb, cfg.Consumer.RetryTTL),
		cfg.Consumer.MaxRetries,
		log,
	)
	consumer.SetHandler(handler.Handle)

	go func() {
		defer dlqPublisher.Close()
		log.Info("Starting notification.publish consumer...")
		if err := consumer.StartConsuming(ctx); err != nil {
			log.Error("Notification consumer failed", zap.Error(err))
		}
	}()

	return consumer
}
