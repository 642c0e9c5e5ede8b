package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"notifyhub/internal/model"
)

const defaultUnreadLimit = 50

type NotificationRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewNotificationRepository(db DBTX, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists n and fills CreatedAt from the database clock.
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	r.logger.Debug("Inserting notification",
		zap.String("id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
	)

	payload := []byte(n.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO notifications (id, type, title, message, payload, user_id, team_id, task_id, submission_id, column_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		n.ID,
		string(n.Type),
		n.Title,
		n.Message,
		payload,
		n.UserID,
		n.TeamID,
		n.TaskID,
		n.SubmissionID,
		n.ColumnID,
	).Scan(&n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}

	n.Payload = payload
	return n, nil
}

// ListUnread returns the newest unread notifications for userID.
func (r *NotificationRepository) ListUnread(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = defaultUnreadLimit
	}

	query := `
		SELECT id, type, title, message, payload, user_id, team_id, task_id, submission_id, column_id, created_at, read_at
		FROM notifications
		WHERE user_id = $1 AND read_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unread notifications: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Notification, 0)
	for rows.Next() {
		var (
			n                                    model.Notification
			typ                                  string
			payload                              []byte
			teamID, taskID, submissionID, column pgtype.Text
			readAt                               pgtype.Timestamptz
		)
		if err := rows.Scan(
			&n.ID,
			&typ,
			&n.Title,
			&n.Message,
			&payload,
			&n.UserID,
			&teamID,
			&taskID,
			&submissionID,
			&column,
			&n.CreatedAt,
			&readAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		n.Type = model.NotificationType(typ)
		n.Payload = json.RawMessage(payload)
		n.TeamID = textPtr(teamID)
		n.TaskID = textPtr(taskID)
		n.SubmissionID = textPtr(submissionID)
		n.ColumnID = textPtr(column)
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		result = append(result, &n)
	}

	return result, rows.Err()
}

// MarkRead sets read_at once; repeated calls keep the first timestamp.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	query := `
		UPDATE notifications
		SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.db.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of userID and returns the count.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`
	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}
