package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/preference"
)

// LoadPreferences returns every stored pattern.
func (s *Store) LoadPreferences(ctx context.Context) ([]preference.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, intent, tool_id, uses, successes, last_used_at
		FROM preference_patterns
		ORDER BY user_id, intent, tool_id`)
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}
	defer rows.Close()

	var out []preference.Pattern
	for rows.Next() {
		var p preference.Pattern
		var in, lastUsed string
		if err := rows.Scan(&p.UserID, &in, &p.ToolID, &p.Uses, &p.Successes, &lastUsed); err != nil {
			return nil, fmt.Errorf("scanning preference: %w", err)
		}
		p.Intent = intent.Intent(in)
		if p.LastUsedAt, err = time.Parse(time.RFC3339Nano, lastUsed); err != nil {
			return nil, fmt.Errorf("parsing last_used_at for %s/%s: %w", p.UserID, p.ToolID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePreferences replaces the stored snapshot with patterns in a single
// transaction. A failed save leaves the previous snapshot intact.
func (s *Store) SavePreferences(ctx context.Context, patterns []preference.Pattern) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM preference_patterns"); err != nil {
		return fmt.Errorf("clearing preferences: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO preference_patterns (user_id, intent, tool_id, uses, successes, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range patterns {
		if _, err := stmt.ExecContext(ctx,
			p.UserID, string(p.Intent), p.ToolID, p.Uses, p.Successes,
			p.LastUsedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("inserting preference %s/%s/%s: %w", p.UserID, p.Intent, p.ToolID, err)
		}
	}
	return tx.Commit()
}

// PreferenceCount returns the number of stored patterns.
func (s *Store) PreferenceCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM preference_patterns").Scan(&n)
	return n, err
}
