package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const runLogColumns = `id, monitor_id, ran_at, system_prompt, user_prompt, raw_response, threats_found, citations, request_payload, created_at`

// RunLogRow represents a row from the run_logs table.
type RunLogRow struct {
	ID             uuid.UUID
	MonitorID      uuid.UUID
	RanAt          time.Time
	SystemPrompt   string
	UserPrompt     string
	RawResponse    string
	ThreatsFound   int
	Citations      json.RawMessage
	RequestPayload json.RawMessage
	CreatedAt      time.Time
}

func scanRunLogRow(row pgx.Row) (RunLogRow, error) {
	var r RunLogRow
	err := row.Scan(&r.ID, &r.MonitorID, &r.RanAt, &r.SystemPrompt, &r.UserPrompt, &r.RawResponse,
		&r.ThreatsFound, &r.Citations, &r.RequestPayload, &r.CreatedAt)
	return r, err
}

// InsertRunLogParams holds parameters for a pipeline tick's bookkeeping row.
type InsertRunLogParams struct {
	MonitorID      uuid.UUID
	SystemPrompt   string
	UserPrompt     string
	RawResponse    string
	ThreatsFound   int
	Citations      json.RawMessage
	RequestPayload json.RawMessage
}

// InsertRunLog records one pipeline tick, step 8 of §4.6.
func (s *Store) InsertRunLog(ctx context.Context, p InsertRunLogParams) (RunLogRow, error) {
	query := `INSERT INTO run_logs (monitor_id, ran_at, system_prompt, user_prompt, raw_response, threats_found, citations, request_payload)
	VALUES ($1, now(), $2, $3, $4, $5, $6, $7)
	RETURNING ` + runLogColumns
	r, err := scanRunLogRow(s.pool.QueryRow(ctx, query,
		p.MonitorID, p.SystemPrompt, p.UserPrompt, p.RawResponse, p.ThreatsFound, p.Citations, p.RequestPayload))
	if err != nil {
		return RunLogRow{}, fmt.Errorf("inserting run log: %w", err)
	}
	return r, nil
}

// TrimRunLogs enforces the §3 run-log retention policy for one monitor:
// rows older than 6 hours are dropped unconditionally, then any remainder
// past the 100-row cap is dropped in least-preferred-first order (rows with
// threats_found = 0 first, then shorter raw_response first, then oldest
// first).
func (s *Store) TrimRunLogs(ctx context.Context, monitorID uuid.UUID) (int64, error) {
	expiredTag, err := s.pool.Exec(ctx,
		`DELETE FROM run_logs WHERE monitor_id = $1 AND ran_at < now() - interval '6 hours'`,
		monitorID,
	)
	if err != nil {
		return 0, fmt.Errorf("trimming expired run logs: %w", err)
	}

	query := `WITH ranked AS (
		SELECT id, row_number() OVER (
			ORDER BY (threats_found > 0) DESC, length(raw_response) DESC, ran_at DESC
		) AS rn
		FROM run_logs
		WHERE monitor_id = $1
	)
	DELETE FROM run_logs WHERE id IN (SELECT id FROM ranked WHERE rn > 100)`
	excessTag, err := s.pool.Exec(ctx, query, monitorID)
	if err != nil {
		return expiredTag.RowsAffected(), fmt.Errorf("trimming excess run logs: %w", err)
	}
	return expiredTag.RowsAffected() + excessTag.RowsAffected(), nil
}
