package repository

import (
	"context"
	"fmt"
)

// sqliteMigration is a versioned schema change.
type sqliteMigration struct {
	Version     int
	Description string
	SQL         string
}

var sqliteMigrations = []sqliteMigration{
	{
		Version:     1,
		Description: "engagement events and daily scores",
		SQL: `
			CREATE TABLE IF NOT EXISTS engagement_events (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL,
				event_type  TEXT NOT NULL,
				occurred_on TEXT NOT NULL,
				occurred_at INTEGER NOT NULL DEFAULT 0,
				payload     TEXT NOT NULL DEFAULT '{}'
			);
			CREATE INDEX IF NOT EXISTS idx_events_user_day ON engagement_events(user_id, occurred_on);
			CREATE INDEX IF NOT EXISTS idx_events_day ON engagement_events(occurred_on);

			CREATE TABLE IF NOT EXISTS daily_engagement_scores (
				user_id           TEXT NOT NULL,
				score_date        TEXT NOT NULL,
				raw_score         REAL NOT NULL,
				final_score       REAL NOT NULL CHECK (final_score BETWEEN 0 AND 100),
				momentum_state    TEXT NOT NULL CHECK (momentum_state IN ('Rising', 'Steady', 'NeedsCare')),
				breakdown         TEXT NOT NULL DEFAULT '{}',
				algorithm_version TEXT NOT NULL,
				calculated_at     INTEGER NOT NULL,
				PRIMARY KEY (user_id, score_date)
			);
		`,
	},
	{
		Version:     2,
		Description: "score lookups by day",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_scores_day ON daily_engagement_scores(score_date);`,
	},
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range sqliteMigrations {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
