package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, user_id, team_id, category, content, created_at`

// MessageRow represents a row from the messages table.
type MessageRow struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TeamID    uuid.UUID
	Category  string
	Content   string
	CreatedAt time.Time
}

func scanMessageRow(row pgx.Row) (MessageRow, error) {
	var m MessageRow
	err := row.Scan(&m.ID, &m.UserID, &m.TeamID, &m.Category, &m.Content, &m.CreatedAt)
	return m, err
}

// InsertMessageParams holds parameters for appending a message.
type InsertMessageParams struct {
	UserID   uuid.UUID
	TeamID   uuid.UUID
	Category string
	Content  string
}

// InsertMessage appends a message. Messages are append-only.
func (s *Store) InsertMessage(ctx context.Context, p InsertMessageParams) (MessageRow, error) {
	query := `INSERT INTO messages (user_id, team_id, category, content)
	VALUES ($1, $2, $3, $4)
	RETURNING ` + messageColumns
	m, err := scanMessageRow(s.pool.QueryRow(ctx, query, p.UserID, p.TeamID, p.Category, p.Content))
	if err != nil {
		return MessageRow{}, fmt.Errorf("inserting message: %w", err)
	}
	return m, nil
}

// CountRecentMessages returns the number of messages sent within the last
// sinceHours, for GET /api/admin/stats's messages.recent field.
func (s *Store) CountRecentMessages(ctx context.Context, sinceHours int) (int, error) {
	var n int
	query := `SELECT count(*) FROM messages WHERE created_at >= now() - make_interval(hours => $1)`
	if err := s.pool.QueryRow(ctx, query, sinceHours).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting recent messages: %w", err)
	}
	return n, nil
}
