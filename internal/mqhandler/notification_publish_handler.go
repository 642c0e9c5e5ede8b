package mqhandler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/internal/service"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/util"
)

const handlerName = "notification_publish"

type EventPublisher interface {
	Publish(ctx context.Context, ev model.Event) (*model.Notification, error)
}

type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, errorType string) error
}

// NotificationPublishHandler consumes notification.publish and hands the
// event to the dispatcher. Returning an error nacks with requeue.
type NotificationPublishHandler struct {
	dispatcher   EventPublisher
	dlq          DeadLetterPublisher
	retryCounter *util.RetryCounter
	maxRetries   int64
	logger       *zap.Logger
}

func NewNotificationPublishHandler(
	dispatcher EventPublisher,
	dlq DeadLetterPublisher,
	retryCounter *util.RetryCounter,
	maxRetries int64,
	logger *zap.Logger,
) *NotificationPublishHandler {
	return &NotificationPublishHandler{
		dispatcher:   dispatcher,
		dlq:          dlq,
		retryCounter: retryCounter,
		maxRetries:   maxRetries,
		logger:       logger,
	}
}

func (h *NotificationPublishHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.NotificationPublishPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// JSON decode 错误 - 不可重试
		log.Error("Failed to unmarshal NotificationPublishPayload (non-retryable)", zap.Error(err))
		h.deadLetter(ctx, log, raw, err, "json_decode_error")
		return nil
	}

	log.Info("Handling notification.publish event",
		zap.String("user_id", p.UserID),
		zap.String("type", p.Type),
		zap.String("team_id", p.TeamID),
	)

	n, err := h.dispatcher.Publish(ctx, model.Event{
		Type:         model.NotificationType(p.Type),
		Title:        p.Title,
		Message:      p.Message,
		Payload:      p.Payload,
		UserID:       p.UserID,
		TeamID:       p.TeamID,
		TaskID:       p.TaskID,
		SubmissionID: p.SubmissionID,
		ColumnID:     p.ColumnID,
		DedupKey:     p.DedupKey,
	})

	retryKey := util.FormatRetryKey(handlerName, messageKey(p, raw))

	switch {
	case err == nil:
		h.resetRetries(ctx, retryKey)
		log.Info("notification.publish handled", zap.String("notification_id", n.ID))
		return nil
	case errors.Is(err, service.ErrDuplicateEvent):
		log.Info("Duplicate notification.publish skipped", zap.String("dedup_key", p.DedupKey))
		return nil
	case errors.Is(err, service.ErrInvalidEvent):
		log.Error("Invalid notification.publish event (non-retryable)", zap.Error(err))
		h.deadLetter(ctx, log, raw, err, "invalid_event")
		return nil
	}

	isRetryable, errType := util.IsRetryableError(err)
	var retryCount int64
	if h.retryCounter != nil && isRetryable {
		count, rcErr := h.retryCounter.IncrementAndGet(ctx, retryKey)
		if rcErr != nil {
			// 计数不可用时无法限制重投次数，按已耗尽处理，避免无限 requeue
			log.Warn("Failed to read retry count, treating retries as exhausted", zap.Error(rcErr))
			count = h.maxRetries + 1
		}
		retryCount = count
	}

	log.Error("Failed to publish notification",
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry_count", retryCount),
		zap.Error(err),
	)

	if util.ShouldRetry(retryCount, h.maxRetries, isRetryable) {
		return err // 可重试错误，nack 并重新入队
	}

	h.deadLetter(ctx, log, raw, err, errType)
	h.resetRetries(ctx, retryKey)
	return nil
}

func (h *NotificationPublishHandler) deadLetter(ctx context.Context, log *zap.Logger, raw []byte, cause error, errType string) {
	if h.dlq == nil {
		return
	}
	if err := h.dlq.PublishToDLQ(ctx, mqcontracts.RoutingKeyNotificationPublish, raw, cause.Error(), errType); err != nil {
		log.Error("Failed to publish to DLQ", zap.String("error_type", errType), zap.Error(err))
		return
	}
	log.Info("Message sent to DLQ", zap.String("error_type", errType))
}

func (h *NotificationPublishHandler) resetRetries(ctx context.Context, key string) {
	if h.retryCounter == nil {
		return
	}
	if err := h.retryCounter.Reset(ctx, key); err != nil {
		h.logger.Warn("Failed to reset retry count", zap.String("key", key), zap.Error(err))
	}
}

// messageKey identifies a message across redeliveries.
func messageKey(p mqcontracts.NotificationPublishPayload, raw []byte) string {
	if p.DedupKey != "" {
		return p.DedupKey
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, raw).String()
}
