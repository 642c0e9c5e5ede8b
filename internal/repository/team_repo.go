package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// TeamRepository resolves team membership for team-wide fan-out.
type TeamRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewTeamRepository(db DBTX, logger *zap.Logger) *TeamRepository {
	return &TeamRepository{db: db, logger: logger}
}

func (r *TeamRepository) Members(ctx context.Context, teamID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM team_members WHERE team_id = $1 ORDER BY user_id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query team members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		members = append(members, userID)
	}

	r.logger.Debug("Resolved team members",
		zap.String("team_id", teamID),
		zap.Int("count", len(members)),
	)
	return members, rows.Err()
}
