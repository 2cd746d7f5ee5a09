package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const locationColumns = `id, user_id, team_id, latitude, longitude, altitude, accuracy, client_timestamp, created_at`

// LocationRow represents a row from the locations table.
type LocationRow struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	TeamID          uuid.UUID
	Latitude        float64
	Longitude       float64
	Altitude        *float64
	Accuracy        *float64
	ClientTimestamp time.Time
	CreatedAt       time.Time
}

func scanLocationRow(row pgx.Row) (LocationRow, error) {
	var l LocationRow
	err := row.Scan(&l.ID, &l.UserID, &l.TeamID, &l.Latitude, &l.Longitude, &l.Altitude, &l.Accuracy, &l.ClientTimestamp, &l.CreatedAt)
	return l, err
}

func scanLocationRows(rows pgx.Rows) ([]LocationRow, error) {
	defer rows.Close()
	var items []LocationRow
	for rows.Next() {
		var l LocationRow
		if err := rows.Scan(&l.ID, &l.UserID, &l.TeamID, &l.Latitude, &l.Longitude, &l.Altitude, &l.Accuracy, &l.ClientTimestamp, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning location row: %w", err)
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating location rows: %w", err)
	}
	return items, nil
}

// InsertLocationParams holds parameters for appending a location sample.
type InsertLocationParams struct {
	UserID          uuid.UUID
	TeamID          uuid.UUID
	Latitude        float64
	Longitude       float64
	Altitude        *float64
	Accuracy        *float64
	ClientTimestamp time.Time
}

// InsertLocation appends a location sample. Locations are append-only; there
// is no update or delete operation.
func (s *Store) InsertLocation(ctx context.Context, p InsertLocationParams) (LocationRow, error) {
	query := `INSERT INTO locations (user_id, team_id, latitude, longitude, altitude, accuracy, client_timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING ` + locationColumns
	l, err := scanLocationRow(s.pool.QueryRow(ctx, query,
		p.UserID, p.TeamID, p.Latitude, p.Longitude, p.Altitude, p.Accuracy, p.ClientTimestamp))
	if err != nil {
		return LocationRow{}, fmt.Errorf("inserting location: %w", err)
	}
	return l, nil
}

// RecentLocations returns the latest location sample per user for a team,
// restricted to samples within window, for dashboard snapshots.
func (s *Store) RecentLocations(ctx context.Context, teamID uuid.UUID, window time.Duration) ([]LocationRow, error) {
	query := `SELECT DISTINCT ON (user_id) ` + locationColumns + `
	FROM locations
	WHERE team_id = $1 AND created_at >= $2
	ORDER BY user_id, created_at DESC`
	rows, err := s.pool.Query(ctx, query, teamID, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("listing recent locations: %w", err)
	}
	return scanLocationRows(rows)
}

// PruneLocations deletes location samples older than the retention window,
// the background counterpart to the retention-policy note in §3.
func (s *Store) PruneLocations(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM locations WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("pruning locations: %w", err)
	}
	return tag.RowsAffected(), nil
}
