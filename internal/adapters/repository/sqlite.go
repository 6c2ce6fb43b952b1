package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/okian/momentum/internal/domain/model"
)

// SQLiteStore is a Store backed by a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path, configures pragmas
// and applies pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newSQLiteStore(ctx, db, path)
}

// OpenSQLiteMemory opens a private in-memory database, mainly for tests.
func OpenSQLiteMemory(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every connection would get its own empty database.
	db.SetMaxOpenConns(1)
	return newSQLiteStore(ctx, db, ":memory:")
}

func newSQLiteStore(ctx context.Context, db *sql.DB, path string) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, path: path}
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}

// DB exposes the handle for tooling and tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) EventsForDay(ctx context.Context, userID string, day model.Date) ([]model.EngagementEvent, error) {
	defer observe(opEventsForDay)()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, occurred_on, occurred_at, payload
		FROM engagement_events
		WHERE user_id = ? AND occurred_on = ?
		ORDER BY occurred_at, id`, model.CanonicalUserID(userID), day.String())
	if err != nil {
		return nil, sqliteErr("query events", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.EngagementEvent
	for rows.Next() {
		var (
			ev         model.EngagementEvent
			occurredOn string
			occurredAt int64
			payload    string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Type, &occurredOn, &occurredAt, &payload); err != nil {
			return nil, sqliteErr("scan event", err)
		}
		if ev.OccurredOn, err = model.ParseDate(occurredOn); err != nil {
			return nil, fmt.Errorf("%w: event %s: %w", ErrCorruptRecord, ev.ID, err)
		}
		ev.OccurredAt = fromUnixNano(occurredAt)
		if ev.Payload, err = decodePayload(payload); err != nil {
			return nil, fmt.Errorf("%w: event %s: %w", ErrCorruptRecord, ev.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr("iterate events", err)
	}
	return out, nil
}

func (s *SQLiteStore) ActiveUsers(ctx context.Context, from, to model.Date) ([]string, error) {
	defer observe(opActiveUsers)()
	return s.queryStrings(ctx, `
		SELECT DISTINCT user_id FROM engagement_events
		WHERE occurred_on BETWEEN ? AND ?
		ORDER BY user_id`, from.String(), to.String())
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, events ...model.EngagementEvent) error {
	defer observe(opAppendEvents)()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteErr("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO engagement_events (id, user_id, event_type, occurred_on, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return sqliteErr("prepare append", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		payload, err := encodePayload(ev.Payload)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, model.CanonicalUserID(ev.UserID), string(ev.Type),
			ev.OccurredOn.String(), toUnixNano(ev.OccurredAt), payload); err != nil {
			return sqliteErr("insert event", err)
		}
	}
	return sqliteErr("commit append", tx.Commit())
}

func (s *SQLiteStore) History(ctx context.Context, userID string, before model.Date, lookbackDays int) ([]model.DailyEngagementScore, error) {
	defer observe(opHistory)()
	from := ""
	limit := -1
	if lookbackDays > 0 {
		from = before.AddDays(-lookbackDays).String()
		limit = lookbackDays
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scoreColumns+`
		FROM daily_engagement_scores
		WHERE user_id = ? AND score_date < ? AND score_date >= ?
		ORDER BY score_date DESC
		LIMIT ?`, model.CanonicalUserID(userID), before.String(), from, limit)
	if err != nil {
		return nil, sqliteErr("query history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DailyEngagementScore
	for rows.Next() {
		score, err := scanSQLiteScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, score)
	}
	return out, sqliteErr("iterate history", rows.Err())
}

func (s *SQLiteStore) PreviousState(ctx context.Context, userID string, before model.Date) (model.NullState, error) {
	defer observe(opPreviousState)()
	var prev model.NullState
	err := s.db.QueryRowContext(ctx, `
		SELECT momentum_state FROM daily_engagement_scores
		WHERE user_id = ? AND score_date < ?
		ORDER BY score_date DESC
		LIMIT 1`, model.CanonicalUserID(userID), before.String()).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NullState{}, nil
	}
	if err != nil {
		return model.NullState{}, sqliteErr("query previous state", err)
	}
	return prev, nil
}

func (s *SQLiteStore) GetScore(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error) {
	defer observe(opGetScore)()
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scoreColumns+`
		FROM daily_engagement_scores
		WHERE user_id = ? AND score_date = ?`, model.CanonicalUserID(userID), day.String())
	score, err := scanSQLiteScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyEngagementScore{}, ErrNotFound
	}
	return score, err
}

func (s *SQLiteStore) KnownUsers(ctx context.Context) ([]string, error) {
	defer observe(opKnownUsers)()
	return s.queryStrings(ctx, `
		SELECT user_id FROM engagement_events
		UNION
		SELECT user_id FROM daily_engagement_scores
		ORDER BY user_id`)
}

func (s *SQLiteStore) UpsertScore(ctx context.Context, score model.DailyEngagementScore) error {
	defer observe(opUpsertScore)()
	args, err := scoreArgs(score)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_engagement_scores (`+scoreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, score_date) DO UPDATE SET
			raw_score = excluded.raw_score,
			final_score = excluded.final_score,
			momentum_state = excluded.momentum_state,
			breakdown = excluded.breakdown,
			algorithm_version = excluded.algorithm_version,
			calculated_at = excluded.calculated_at`, args...)
	return sqliteErr("upsert score", err)
}

func (s *SQLiteStore) InsertDefaultScore(ctx context.Context, score model.DailyEngagementScore) (bool, error) {
	defer observe(opInsertDefault)()
	args, err := scoreArgs(score)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_engagement_scores (`+scoreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, score_date) DO NOTHING`, args...)
	if err != nil {
		return false, sqliteErr("insert default score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sqliteErr("insert default score", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	defer observe(opPing)()
	return sqliteErr("ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteErr("query", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, sqliteErr("scan", err)
		}
		out = append(out, v)
	}
	return out, sqliteErr("iterate", rows.Err())
}

func scanSQLiteScore(row rowScanner) (model.DailyEngagementScore, error) {
	var (
		score        model.DailyEngagementScore
		scoreDate    string
		breakdown    string
		calculatedAt int64
	)
	if err := row.Scan(&score.UserID, &scoreDate, &score.RawScore, &score.FinalScore,
		&score.MomentumState, &breakdown, &score.AlgorithmVersion, &calculatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return score, err
		}
		return score, sqliteErr("scan score", err)
	}
	var err error
	if score.ScoreDate, err = model.ParseDate(scoreDate); err != nil {
		return score, fmt.Errorf("%w: score date: %w", ErrCorruptRecord, err)
	}
	if score.Breakdown, err = decodeBreakdown([]byte(breakdown)); err != nil {
		return score, err
	}
	score.CalculatedAt = fromUnixNano(calculatedAt)
	return score, nil
}

func scoreArgs(score model.DailyEngagementScore) ([]any, error) {
	breakdown, err := encodeBreakdown(score.Breakdown)
	if err != nil {
		return nil, err
	}
	return []any{
		model.CanonicalUserID(score.UserID), score.ScoreDate.String(), score.RawScore, score.FinalScore,
		string(score.MomentumState), string(breakdown), score.AlgorithmVersion, toUnixNano(score.CalculatedAt),
	}, nil
}

// sqliteErr wraps err with op and maps lock contention to ErrConflict.
func sqliteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
