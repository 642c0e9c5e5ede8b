package mq

import "encoding/json"

const (
	RoutingKeyNotificationPublish = "notification.publish"
	QueueNotificationPublish      = "notification.publish.q"
)

// NotificationPublishPayload asks the notifier to publish one notification.
// Producers set DedupKey so redelivered messages are not published twice.
type NotificationPublishPayload struct {
	Type         string          `json:"type"` // TASK_ASSIGNED / MODERATION / COLUMN_MOVED / ...
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	UserID       string          `json:"user_id"`
	TeamID       string          `json:"team_id,omitempty"`
	TaskID       string          `json:"task_id,omitempty"`
	SubmissionID string          `json:"submission_id,omitempty"`
	ColumnID     string          `json:"column_id,omitempty"`
	DedupKey     string          `json:"dedup_key,omitempty"`
}
