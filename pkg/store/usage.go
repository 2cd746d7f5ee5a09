package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertUsageParams holds parameters for an AI usage entry. MonitorID is
// nil for calls not attributable to a monitor tick (e.g. a setup-time
// provider test call).
type InsertUsageParams struct {
	Model            string
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	EstimatedCostUSD float64
	CallType         string
	MonitorID        *uuid.UUID
}

// InsertUsage appends an AI usage entry. Usage entries are append-only; the
// insert is idempotent in the sense that it has no side effects beyond the
// row itself, so a caller retrying after an ambiguous network failure may
// double-insert rather than corrupt state.
func (s *Store) InsertUsage(ctx context.Context, p InsertUsageParams) error {
	query := `INSERT INTO usage_entries (model, input_tokens, output_tokens, total_tokens, estimated_cost_usd, call_type, monitor_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now())`
	if _, err := s.pool.Exec(ctx, query,
		p.Model, p.InputTokens, p.OutputTokens, p.TotalTokens, p.EstimatedCostUSD, p.CallType, p.MonitorID,
	); err != nil {
		return fmt.Errorf("inserting usage entry: %w", err)
	}
	return nil
}

// UsageTotals summarizes usage for an admin dashboard window.
type UsageTotals struct {
	TotalTokens      int64
	EstimatedCostUSD float64
	CallCount        int64
}

// SumUsageSince totals usage entries recorded since the given time.
func (s *Store) SumUsageSince(ctx context.Context, since time.Time) (UsageTotals, error) {
	query := `SELECT COALESCE(SUM(total_tokens), 0), COALESCE(SUM(estimated_cost_usd), 0), COUNT(*)
	FROM usage_entries WHERE created_at >= $1`
	var totals UsageTotals
	if err := s.pool.QueryRow(ctx, query, since).Scan(&totals.TotalTokens, &totals.EstimatedCostUSD, &totals.CallCount); err != nil {
		return UsageTotals{}, fmt.Errorf("summing usage: %w", err)
	}
	return totals, nil
}
