package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const teamColumns = `id, name, created_at`

// TeamRow represents a row from the teams table.
type TeamRow struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

func scanTeamRow(row pgx.Row) (TeamRow, error) {
	var t TeamRow
	err := row.Scan(&t.ID, &t.Name, &t.CreatedAt)
	return t, err
}

func scanTeamRows(rows pgx.Rows) ([]TeamRow, error) {
	defer rows.Close()
	var items []TeamRow
	for rows.Next() {
		var t TeamRow
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating team rows: %w", err)
	}
	return items, nil
}

// CreateTeam inserts a new team.
func (s *Store) CreateTeam(ctx context.Context, name string) (TeamRow, error) {
	query := `INSERT INTO teams (name) VALUES ($1) RETURNING ` + teamColumns
	t, err := scanTeamRow(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		return TeamRow{}, fmt.Errorf("creating team: %w", err)
	}
	return t, nil
}

// GetTeam returns a single team by ID.
func (s *Store) GetTeam(ctx context.Context, id uuid.UUID) (TeamRow, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	return scanTeamRow(s.pool.QueryRow(ctx, query, id))
}

// ListTeamsForUser returns every team the given user has a membership in.
func (s *Store) ListTeamsForUser(ctx context.Context, userID uuid.UUID) ([]TeamRow, error) {
	query := `SELECT t.id, t.name, t.created_at FROM teams t
	JOIN memberships m ON m.team_id = t.id
	WHERE m.user_id = $1
	ORDER BY t.name`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing teams for user: %w", err)
	}
	return scanTeamRows(rows)
}

// CreateMembership adds a user to a team. Idempotent: a repeat call for an
// existing (user, team) pair is a no-op.
func (s *Store) CreateMembership(ctx context.Context, userID, teamID uuid.UUID) error {
	query := `INSERT INTO memberships (user_id, team_id) VALUES ($1, $2)
	ON CONFLICT (user_id, team_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, userID, teamID); err != nil {
		return fmt.Errorf("creating membership: %w", err)
	}
	return nil
}

// IsMember reports whether a (user, team) membership exists, the predicate
// behind sync core's assertMembership.
func (s *Store) IsMember(ctx context.Context, userID, teamID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM memberships WHERE user_id = $1 AND team_id = $2)`
	var ok bool
	if err := s.pool.QueryRow(ctx, query, userID, teamID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return ok, nil
}

// CountTeams returns the total number of teams, for GET /api/admin/stats's
// db.teams field.
func (s *Store) CountTeams(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM teams`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting teams: %w", err)
	}
	return n, nil
}

// ListTeams returns every team, for the admin teams listing.
func (s *Store) ListTeams(ctx context.Context) ([]TeamRow, error) {
	query := `SELECT ` + teamColumns + ` FROM teams ORDER BY name`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	return scanTeamRows(rows)
}

// UpdateTeamName renames a team.
func (s *Store) UpdateTeamName(ctx context.Context, id uuid.UUID, name string) (TeamRow, error) {
	query := `UPDATE teams SET name = $2 WHERE id = $1 RETURNING ` + teamColumns
	t, err := scanTeamRow(s.pool.QueryRow(ctx, query, id, name))
	if err != nil {
		return TeamRow{}, fmt.Errorf("renaming team: %w", err)
	}
	return t, nil
}

// DeleteTeam removes a team permanently. Memberships cascade per the
// schema's foreign key.
func (s *Store) DeleteTeam(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting team: %w", err)
	}
	return nil
}

// RemoveMembership removes a user from a team. Idempotent: a repeat call
// for an absent (user, team) pair is a no-op.
func (s *Store) RemoveMembership(ctx context.Context, userID, teamID uuid.UUID) error {
	query := `DELETE FROM memberships WHERE user_id = $1 AND team_id = $2`
	if _, err := s.pool.Exec(ctx, query, userID, teamID); err != nil {
		return fmt.Errorf("removing membership: %w", err)
	}
	return nil
}

// TeamMemberRow is a user row joined against a team membership.
type TeamMemberRow struct {
	UserID      uuid.UUID
	DisplayName string
	Email       *string
	IsAdmin     bool
}

// ListTeamMembers returns every user belonging to a team.
func (s *Store) ListTeamMembers(ctx context.Context, teamID uuid.UUID) ([]TeamMemberRow, error) {
	query := `SELECT u.id, u.display_name, u.email, u.is_admin FROM users u
	JOIN memberships m ON m.user_id = u.id
	WHERE m.team_id = $1
	ORDER BY u.display_name`
	rows, err := s.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("listing team members: %w", err)
	}
	defer rows.Close()
	var items []TeamMemberRow
	for rows.Next() {
		var m TeamMemberRow
		if err := rows.Scan(&m.UserID, &m.DisplayName, &m.Email, &m.IsAdmin); err != nil {
			return nil, fmt.Errorf("scanning team member row: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating team member rows: %w", err)
	}
	return items, nil
}
