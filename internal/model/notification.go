package model

import (
	"encoding/json"
	"time"
)

// NotificationType is the closed set of dashboard events.
type NotificationType string

const (
	TypeTaskAssigned       NotificationType = "TASK_ASSIGNED"
	TypeTaskUpdated        NotificationType = "TASK_UPDATED"
	TypeTaskCommented      NotificationType = "TASK_COMMENTED"
	TypeModeration         NotificationType = "MODERATION"
	TypeSubmissionReviewed NotificationType = "SUBMISSION_REVIEWED"
	TypeColumnMoved        NotificationType = "COLUMN_MOVED"
	TypeTeamInvite         NotificationType = "TEAM_INVITE"
	TypeSystem             NotificationType = "SYSTEM"
)

var knownTypes = map[NotificationType]struct{}{
	TypeTaskAssigned:       {},
	TypeTaskUpdated:        {},
	TypeTaskCommented:      {},
	TypeModeration:         {},
	TypeSubmissionReviewed: {},
	TypeColumnMoved:        {},
	TypeTeamInvite:         {},
	TypeSystem:             {},
}

// Valid reports whether t belongs to the closed set.
func (t NotificationType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Notification is immutable after creation except for ReadAt.
type Notification struct {
	ID           string           `json:"id"`
	Type         NotificationType `json:"type"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	UserID       string           `json:"user_id"`
	TeamID       *string          `json:"team_id,omitempty"`
	TaskID       *string          `json:"task_id,omitempty"`
	SubmissionID *string          `json:"submission_id,omitempty"`
	ColumnID     *string          `json:"column_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	ReadAt       *time.Time       `json:"read_at"`
}

// Event is what producer code hands to the dispatcher.
type Event struct {
	Type         NotificationType `json:"type"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	UserID       string           `json:"user_id"`
	TeamID       string           `json:"team_id,omitempty"`
	TaskID       string           `json:"task_id,omitempty"`
	SubmissionID string           `json:"submission_id,omitempty"`
	ColumnID     string           `json:"column_id,omitempty"`
	// DedupKey makes retried producer calls idempotent.
	DedupKey string `json:"dedup_key,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ToNotification builds the notification row for e. ID and CreatedAt are
// assigned by the caller/store.
func (e Event) ToNotification(id string) *Notification {
	return &Notification{
		ID:           id,
		Type:         e.Type,
		Title:        e.Title,
		Message:      e.Message,
		Payload:      e.Payload,
		UserID:       e.UserID,
		TeamID:       optional(e.TeamID),
		TaskID:       optional(e.TaskID),
		SubmissionID: optional(e.SubmissionID),
		ColumnID:     optional(e.ColumnID),
	}
}
