package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 通知发布计数
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Total number of publish calls by outcome",
		},
		[]string{"status"}, // persisted, store_failed, invalid, duplicate
	)

	// 各投递路径的尝试次数
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_attempts_total",
			Help: "Delivery attempts per path and outcome",
		},
		[]string{"path", "outcome"}, // path: queue, direct, pubsub_user, pubsub_team
	)

	// 当前进程持有的 stream 连接数
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_active_streams",
			Help: "Number of open stream sessions on this process",
		},
	)

	// 下发到客户端的帧数
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_frames_sent_total",
			Help: "Frames written to stream clients",
		},
		[]string{"type"},
	)

	// 会话关闭原因
	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_sessions_closed_total",
			Help: "Closed stream sessions by reason",
		},
		[]string{"reason"},
	)

	// 队列 pop 延迟（秒）
	QueuePopDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_queue_pop_duration_seconds",
			Help:    "Durable queue pop latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"result"}, // hit, empty, error
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 慢查询计数
	DBSlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Queries slower than the configured threshold",
		},
	)

	DBSlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
	)
)

// IncrementPublished 记录一次发布结果
func IncrementPublished(status string) {
	NotificationsPublished.WithLabelValues(status).Inc()
}

// RecordDelivery 记录投递尝试
func RecordDelivery(path string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DeliveryAttempts.WithLabelValues(path, outcome).Inc()
}

// IncrementFrameSent 记录下发帧
func IncrementFrameSent(frameType string) {
	FramesSent.WithLabelValues(frameType).Inc()
}

// IncrementSessionClosed 记录会话关闭
func IncrementSessionClosed(reason string) {
	SessionsClosed.WithLabelValues(reason).Inc()
}

// RecordQueuePop 记录队列 pop 延迟
func RecordQueuePop(result string, duration time.Duration) {
	QueuePopDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(duration time.Duration) {
	DBSlowQueryCount.Inc()
	DBSlowQueryDuration.Observe(duration.Seconds())
}
