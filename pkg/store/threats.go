package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const threatColumns = `id, level, type, confidence, summary, locations, keywords, citations,
	area, semantic_hash, update_count, update_history, admin_status, created_at, updated_at`

// ThreatRow represents a row from the threats table. Locations, citations,
// and update_history are stored as jsonb; keywords is a native text[].
type ThreatRow struct {
	ID            uuid.UUID
	Level         string
	Type          string
	Confidence    float64
	Summary       string
	Locations     json.RawMessage
	Keywords      []string
	Citations     json.RawMessage
	Area          string
	SemanticHash  string
	UpdateCount   int
	UpdateHistory json.RawMessage
	AdminStatus   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func scanThreatRow(row pgx.Row) (ThreatRow, error) {
	var t ThreatRow
	err := row.Scan(&t.ID, &t.Level, &t.Type, &t.Confidence, &t.Summary, &t.Locations, &t.Keywords,
		&t.Citations, &t.Area, &t.SemanticHash, &t.UpdateCount, &t.UpdateHistory, &t.AdminStatus,
		&t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func scanThreatRows(rows pgx.Rows) ([]ThreatRow, error) {
	defer rows.Close()
	var items []ThreatRow
	for rows.Next() {
		var t ThreatRow
		if err := rows.Scan(&t.ID, &t.Level, &t.Type, &t.Confidence, &t.Summary, &t.Locations, &t.Keywords,
			&t.Citations, &t.Area, &t.SemanticHash, &t.UpdateCount, &t.UpdateHistory, &t.AdminStatus,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning threat row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating threat rows: %w", err)
	}
	return items, nil
}

// CreateThreatParams holds parameters for inserting a new_threat decision.
// UpdateCount starts at 0 and UpdateHistory at an empty array, per §4.6 step 6.
type CreateThreatParams struct {
	Level        string
	Type         string
	Confidence   float64
	Summary      string
	Locations    json.RawMessage
	Keywords     []string
	Citations    json.RawMessage
	Area         string
	SemanticHash string
}

// CreateThreat inserts a new threat.
func (s *Store) CreateThreat(ctx context.Context, p CreateThreatParams) (ThreatRow, error) {
	query := `INSERT INTO threats (
		level, type, confidence, summary, locations, keywords, citations,
		area, semantic_hash, update_count, update_history, admin_status
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, '[]'::jsonb, 'pending')
	RETURNING ` + threatColumns
	t, err := scanThreatRow(s.pool.QueryRow(ctx, query,
		p.Level, p.Type, p.Confidence, p.Summary, p.Locations, p.Keywords, p.Citations, p.Area, p.SemanticHash))
	if err != nil {
		return ThreatRow{}, fmt.Errorf("creating threat: %w", err)
	}
	return t, nil
}

// GetThreat returns a single threat by ID.
func (s *Store) GetThreat(ctx context.Context, id uuid.UUID) (ThreatRow, error) {
	query := `SELECT ` + threatColumns + ` FROM threats WHERE id = $1`
	return scanThreatRow(s.pool.QueryRow(ctx, query, id))
}

// RecentThreatsByArea returns up to 15 threats for area updated within the
// last sinceHours, newest first, per §4.3's named query.
func (s *Store) RecentThreatsByArea(ctx context.Context, area string, sinceHours int) ([]ThreatRow, error) {
	query := `SELECT ` + threatColumns + ` FROM threats
	WHERE area = $1 AND updated_at >= now() - make_interval(hours => $2)
	ORDER BY updated_at DESC
	LIMIT 15`
	rows, err := s.pool.Query(ctx, query, area, sinceHours)
	if err != nil {
		return nil, fmt.Errorf("listing recent threats by area: %w", err)
	}
	return scanThreatRows(rows)
}

// UpdateThreatParams holds the fields written by an update_existing
// decision. The caller (threat pipeline) has already merged only the
// AI-provided fields into the current row; this method persists the result,
// appends historyEntry to update_history, and increments update_count.
type UpdateThreatParams struct {
	ID           uuid.UUID
	Level        string
	Type         string
	Confidence   float64
	Summary      string
	Locations    json.RawMessage
	Keywords     []string
	Citations    json.RawMessage
	SemanticHash string
	HistoryEntry json.RawMessage
}

// UpdateThreat applies an update_existing decision.
func (s *Store) UpdateThreat(ctx context.Context, p UpdateThreatParams) (ThreatRow, error) {
	query := `UPDATE threats
	SET level = $2, type = $3, confidence = $4, summary = $5, locations = $6,
	    keywords = $7, citations = $8, semantic_hash = $9,
	    update_history = update_history || jsonb_build_array($10::jsonb),
	    update_count = update_count + 1,
	    updated_at = now()
	WHERE id = $1
	RETURNING ` + threatColumns
	t, err := scanThreatRow(s.pool.QueryRow(ctx, query,
		p.ID, p.Level, p.Type, p.Confidence, p.Summary, p.Locations, p.Keywords, p.Citations,
		p.SemanticHash, p.HistoryEntry))
	if err != nil {
		return ThreatRow{}, fmt.Errorf("updating threat: %w", err)
	}
	return t, nil
}

// ListThreats returns up to limit threats, most recently updated first,
// optionally filtered to a single area, for the threats admin listing.
func (s *Store) ListThreats(ctx context.Context, area string, limit int) ([]ThreatRow, error) {
	if area != "" {
		query := `SELECT ` + threatColumns + ` FROM threats WHERE area = $1 ORDER BY updated_at DESC LIMIT $2`
		rows, err := s.pool.Query(ctx, query, area, limit)
		if err != nil {
			return nil, fmt.Errorf("listing threats by area: %w", err)
		}
		return scanThreatRows(rows)
	}

	query := `SELECT ` + threatColumns + ` FROM threats ORDER BY updated_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing threats: %w", err)
	}
	return scanThreatRows(rows)
}

// CountActiveThreats returns the number of threats not dismissed, for
// GET /api/admin/stats's threats.active field.
func (s *Store) CountActiveThreats(ctx context.Context) (int, error) {
	var n int
	query := `SELECT count(*) FROM threats WHERE admin_status != 'dismissed'`
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active threats: %w", err)
	}
	return n, nil
}

// SetThreatAdminStatus transitions a threat's admin_status (pending,
// reviewed, approved, dismissed), the operator-review counterpart to the
// pipeline's automated decisions.
func (s *Store) SetThreatAdminStatus(ctx context.Context, id uuid.UUID, status string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE threats SET admin_status = $2, updated_at = now() WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("setting threat admin_status: %w", err)
	}
	return nil
}

const threatAnnotationColumns = `id, threat_id, latitude, longitude, level, type, title, description, expires_at, created_at`

// ThreatAnnotationRow represents a row from the threat_annotations table:
// a realized threat materialized for operator map display.
type ThreatAnnotationRow struct {
	ID          uuid.UUID
	ThreatID    uuid.UUID
	Latitude    float64
	Longitude   float64
	Level       string
	Type        string
	Title       string
	Description string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

func scanThreatAnnotationRow(row pgx.Row) (ThreatAnnotationRow, error) {
	var a ThreatAnnotationRow
	err := row.Scan(&a.ID, &a.ThreatID, &a.Latitude, &a.Longitude, &a.Level, &a.Type, &a.Title,
		&a.Description, &a.ExpiresAt, &a.CreatedAt)
	return a, err
}

// InsertThreatAnnotationParams holds parameters for materializing a threat
// onto the operator map, per §4.6 step 7. ExpiresAt defaults to +24h.
type InsertThreatAnnotationParams struct {
	ThreatID    uuid.UUID
	Latitude    float64
	Longitude   float64
	Level       string
	Type        string
	Title       string
	Description string
}

// InsertThreatAnnotation inserts a map annotation expiring 24h from now.
func (s *Store) InsertThreatAnnotation(ctx context.Context, p InsertThreatAnnotationParams) (ThreatAnnotationRow, error) {
	query := `INSERT INTO threat_annotations (threat_id, latitude, longitude, level, type, title, description, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now() + interval '24 hours')
	RETURNING ` + threatAnnotationColumns
	a, err := scanThreatAnnotationRow(s.pool.QueryRow(ctx, query,
		p.ThreatID, p.Latitude, p.Longitude, p.Level, p.Type, p.Title, p.Description))
	if err != nil {
		return ThreatAnnotationRow{}, fmt.Errorf("inserting threat annotation: %w", err)
	}
	return a, nil
}

// PruneThreatAnnotations deletes expired threat annotations.
func (s *Store) PruneThreatAnnotations(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM threat_annotations WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("pruning threat annotations: %w", err)
	}
	return tag.RowsAffected(), nil
}
