package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const annotationColumns = `id, user_id, team_id, category, data, created_at, updated_at`

// AnnotationRow represents a row from the annotations table.
type AnnotationRow struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TeamID    uuid.UUID
	Category  string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

func scanAnnotationRow(row pgx.Row) (AnnotationRow, error) {
	var a AnnotationRow
	err := row.Scan(&a.ID, &a.UserID, &a.TeamID, &a.Category, &a.Data, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// UpsertAnnotationParams holds parameters for the annotation upsert.
type UpsertAnnotationParams struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	TeamID   uuid.UUID
	Category string
	Data     json.RawMessage
}

// UpsertAnnotation inserts a new annotation or, on an identifier conflict,
// overwrites category/data/user_id and bumps updated_at — latest write wins
// on every field except created_at and team_id, per §3.
func (s *Store) UpsertAnnotation(ctx context.Context, p UpsertAnnotationParams) (AnnotationRow, error) {
	query := `INSERT INTO annotations (id, user_id, team_id, category, data)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE
	SET user_id = excluded.user_id, category = excluded.category, data = excluded.data, updated_at = now()
	RETURNING ` + annotationColumns
	a, err := scanAnnotationRow(s.pool.QueryRow(ctx, query, p.ID, p.UserID, p.TeamID, p.Category, p.Data))
	if err != nil {
		return AnnotationRow{}, fmt.Errorf("upserting annotation: %w", err)
	}
	return a, nil
}

// GetAnnotation returns a single annotation by ID.
func (s *Store) GetAnnotation(ctx context.Context, id uuid.UUID) (AnnotationRow, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations WHERE id = $1`
	return scanAnnotationRow(s.pool.QueryRow(ctx, query, id))
}
