package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const monitorColumns = `id, area, topical_focus, allowed_domains, interval_seconds, active, last_searched_at, created_by, created_at, updated_at`

// MonitorRow represents a row from the monitors table.
type MonitorRow struct {
	ID              uuid.UUID
	Area            string
	TopicalFocus    *string
	AllowedDomains  []string
	IntervalSeconds int
	Active          bool
	LastSearchedAt  *time.Time
	CreatedBy       uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func scanMonitorRow(row pgx.Row) (MonitorRow, error) {
	var m MonitorRow
	err := row.Scan(&m.ID, &m.Area, &m.TopicalFocus, &m.AllowedDomains, &m.IntervalSeconds,
		&m.Active, &m.LastSearchedAt, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func scanMonitorRows(rows pgx.Rows) ([]MonitorRow, error) {
	defer rows.Close()
	var items []MonitorRow
	for rows.Next() {
		var m MonitorRow
		if err := rows.Scan(&m.ID, &m.Area, &m.TopicalFocus, &m.AllowedDomains, &m.IntervalSeconds,
			&m.Active, &m.LastSearchedAt, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning monitor row: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating monitor rows: %w", err)
	}
	return items, nil
}

// CreateMonitorParams holds parameters for creating a monitor.
type CreateMonitorParams struct {
	Area            string
	TopicalFocus    *string
	AllowedDomains  []string
	IntervalSeconds int
	CreatedBy       uuid.UUID
}

// CreateMonitor inserts a new monitor, initially inactive.
func (s *Store) CreateMonitor(ctx context.Context, p CreateMonitorParams) (MonitorRow, error) {
	query := `INSERT INTO monitors (area, topical_focus, allowed_domains, interval_seconds, active, created_by)
	VALUES ($1, $2, $3, $4, false, $5)
	RETURNING ` + monitorColumns
	m, err := scanMonitorRow(s.pool.QueryRow(ctx, query, p.Area, p.TopicalFocus, p.AllowedDomains, p.IntervalSeconds, p.CreatedBy))
	if err != nil {
		return MonitorRow{}, fmt.Errorf("creating monitor: %w", err)
	}
	return m, nil
}

// GetMonitor returns a single monitor by ID.
func (s *Store) GetMonitor(ctx context.Context, id uuid.UUID) (MonitorRow, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitors WHERE id = $1`
	return scanMonitorRow(s.pool.QueryRow(ctx, query, id))
}

// ListMonitors returns every monitor, most recently created first.
func (s *Store) ListMonitors(ctx context.Context) ([]MonitorRow, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitors ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing monitors: %w", err)
	}
	return scanMonitorRows(rows)
}

// ListActiveMonitors returns every monitor with active = true, the set the
// supervisor's health and recovery loops reconcile against.
func (s *Store) ListActiveMonitors(ctx context.Context) ([]MonitorRow, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitors WHERE active = true ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing active monitors: %w", err)
	}
	return scanMonitorRows(rows)
}

// UpdateMonitorParams holds the editable fields of a monitor.
type UpdateMonitorParams struct {
	ID              uuid.UUID
	Area            string
	TopicalFocus    *string
	AllowedDomains  []string
	IntervalSeconds int
}

// UpdateMonitor updates a monitor's editable fields.
func (s *Store) UpdateMonitor(ctx context.Context, p UpdateMonitorParams) (MonitorRow, error) {
	query := `UPDATE monitors
	SET area = $2, topical_focus = $3, allowed_domains = $4, interval_seconds = $5, updated_at = now()
	WHERE id = $1
	RETURNING ` + monitorColumns
	m, err := scanMonitorRow(s.pool.QueryRow(ctx, query, p.ID, p.Area, p.TopicalFocus, p.AllowedDomains, p.IntervalSeconds))
	if err != nil {
		return MonitorRow{}, fmt.Errorf("updating monitor: %w", err)
	}
	return m, nil
}

// SetMonitorActive flips a monitor's active flag, the persisted half of
// start/stop; the supervisor owns the in-memory scheduling state.
func (s *Store) SetMonitorActive(ctx context.Context, id uuid.UUID, active bool) error {
	if _, err := s.pool.Exec(ctx, `UPDATE monitors SET active = $2, updated_at = now() WHERE id = $1`, id, active); err != nil {
		return fmt.Errorf("setting monitor active=%v: %w", active, err)
	}
	return nil
}

// TouchMonitorLastSearched records that a tick ran, step 9 of the pipeline.
func (s *Store) TouchMonitorLastSearched(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := s.pool.Exec(ctx, `UPDATE monitors SET last_searched_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("touching monitor last_searched_at: %w", err)
	}
	return nil
}

// DeleteMonitor removes a monitor permanently.
func (s *Store) DeleteMonitor(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM monitors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting monitor: %w", err)
	}
	return nil
}
