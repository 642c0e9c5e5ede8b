package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/circuitbreaker"
	"notifyhub/pkg/metrics"
)

const DefaultNamespace = "private"

// Backend delivers an encoded frame on a named channel.
type Backend interface {
	Publish(ctx context.Context, channel string, body []byte) error
	Name() string
}

// Adapter is the optional cross-process delivery path. Failures are logged
// and counted here; callers treat them as best effort.
type Adapter struct {
	backend   Backend
	namespace string
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

func NewAdapter(backend Backend, namespace string, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Adapter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		backend:   backend,
		namespace: namespace,
		breaker:   breaker,
		logger:    logger,
	}
}

// UserChannel returns "<namespace>-user-<id>".
func (a *Adapter) UserChannel(userID string) string {
	return fmt.Sprintf("%s-user-%s", a.namespace, userID)
}

// TeamChannel returns "<namespace>-team-<id>".
func (a *Adapter) TeamChannel(teamID string) string {
	return fmt.Sprintf("%s-team-%s", a.namespace, teamID)
}

func (a *Adapter) PublishToUser(ctx context.Context, userID string, n *model.Notification) error {
	return a.publish(ctx, a.UserChannel(userID), n)
}

func (a *Adapter) PublishToTeam(ctx context.Context, teamID string, n *model.Notification) error {
	return a.publish(ctx, a.TeamChannel(teamID), n)
}

func (a *Adapter) publish(ctx context.Context, channel string, n *model.Notification) error {
	frame, err := model.NewFrame(model.FrameNotification, n)
	if err != nil {
		return fmt.Errorf("failed to build frame: %w", err)
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	err = a.breaker.Execute(func() error {
		return a.backend.Publish(ctx, channel, body)
	})
	metrics.RecordDelivery("pubsub", err)
	if err != nil {
		a.logger.Warn("Pub/sub publish failed",
			zap.String("backend", a.backend.Name()),
			zap.String("channel", channel),
			zap.String("notification_id", n.ID),
			zap.String("breaker_state", a.breaker.GetState().String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}
