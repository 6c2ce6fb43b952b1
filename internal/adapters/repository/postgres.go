package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/okian/momentum/internal/domain/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

var gooseOnce sync.Once

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection. Call Migrate
// (or run `momentum migrate up`) before first use.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunMigrations runs a goose command (up, down, status, version, redo,
// reset) against the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB, command string, args ...string) error {
	var setupErr error
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrationsFS)
		setupErr = goose.SetDialect("postgres")
	})
	if setupErr != nil {
		return fmt.Errorf("goose dialect: %w", setupErr)
	}
	if err := goose.RunContext(ctx, command, db, migrationsDir, args...); err != nil {
		return fmt.Errorf("migration %s: %w", command, err)
	}
	return nil
}

// Migrate applies every pending migration.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, s.db, "up")
}

// DB exposes the handle for tooling and tests.
func (s *PostgresStore) DB() *sql.DB { return s.db }

func (s *PostgresStore) EventsForDay(ctx context.Context, userID string, day model.Date) ([]model.EngagementEvent, error) {
	defer observe(opEventsForDay)()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, occurred_on, occurred_at, payload::text
		FROM engagement_events
		WHERE user_id = $1 AND occurred_on = $2::date
		ORDER BY occurred_at NULLS FIRST, id`, model.CanonicalUserID(userID), day.String())
	if err != nil {
		return nil, pgErr("query events", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.EngagementEvent
	for rows.Next() {
		var (
			ev         model.EngagementEvent
			occurredOn time.Time
			occurredAt sql.NullTime
			payload    string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Type, &occurredOn, &occurredAt, &payload); err != nil {
			return nil, pgErr("scan event", err)
		}
		ev.OccurredOn = model.DateOf(occurredOn)
		if occurredAt.Valid {
			ev.OccurredAt = occurredAt.Time.UTC()
		}
		if ev.Payload, err = decodePayload(payload); err != nil {
			return nil, fmt.Errorf("%w: event %s: %w", ErrCorruptRecord, ev.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("iterate events", err)
	}
	return out, nil
}

func (s *PostgresStore) ActiveUsers(ctx context.Context, from, to model.Date) ([]string, error) {
	defer observe(opActiveUsers)()
	return s.queryStrings(ctx, `
		SELECT DISTINCT user_id::text FROM engagement_events
		WHERE occurred_on BETWEEN $1::date AND $2::date
		ORDER BY 1`, from.String(), to.String())
}

func (s *PostgresStore) AppendEvents(ctx context.Context, events ...model.EngagementEvent) error {
	defer observe(opAppendEvents)()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pgErr("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range events {
		payload, err := encodePayload(ev.Payload)
		if err != nil {
			return err
		}
		var occurredAt sql.NullTime
		if !ev.OccurredAt.IsZero() {
			occurredAt = sql.NullTime{Time: ev.OccurredAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO engagement_events (id, user_id, event_type, occurred_on, occurred_at, payload)
			VALUES ($1, $2, $3, $4::date, $5, $6::jsonb)
			ON CONFLICT (id) DO NOTHING`,
			ev.ID, model.CanonicalUserID(ev.UserID), string(ev.Type), ev.OccurredOn.String(), occurredAt, payload); err != nil {
			return pgErr("insert event", err)
		}
	}
	return pgErr("commit append", tx.Commit())
}

func (s *PostgresStore) History(ctx context.Context, userID string, before model.Date, lookbackDays int) ([]model.DailyEngagementScore, error) {
	defer observe(opHistory)()
	var limit sql.NullInt64
	from := "-infinity"
	if lookbackDays > 0 {
		from = before.AddDays(-lookbackDays).String()
		limit = sql.NullInt64{Int64: int64(lookbackDays), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pgScoreColumns+`
		FROM daily_engagement_scores
		WHERE user_id = $1 AND score_date < $2::date AND score_date >= $3::date
		ORDER BY score_date DESC
		LIMIT $4`, model.CanonicalUserID(userID), before.String(), from, limit)
	if err != nil {
		return nil, pgErr("query history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DailyEngagementScore
	for rows.Next() {
		score, err := scanPGScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, score)
	}
	return out, pgErr("iterate history", rows.Err())
}

func (s *PostgresStore) PreviousState(ctx context.Context, userID string, before model.Date) (model.NullState, error) {
	defer observe(opPreviousState)()
	var prev model.NullState
	err := s.db.QueryRowContext(ctx, `
		SELECT momentum_state FROM daily_engagement_scores
		WHERE user_id = $1 AND score_date < $2::date
		ORDER BY score_date DESC
		LIMIT 1`, model.CanonicalUserID(userID), before.String()).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NullState{}, nil
	}
	if err != nil {
		return model.NullState{}, pgErr("query previous state", err)
	}
	return prev, nil
}

func (s *PostgresStore) GetScore(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error) {
	defer observe(opGetScore)()
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pgScoreColumns+`
		FROM daily_engagement_scores
		WHERE user_id = $1 AND score_date = $2::date`, model.CanonicalUserID(userID), day.String())
	score, err := scanPGScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyEngagementScore{}, ErrNotFound
	}
	return score, err
}

func (s *PostgresStore) KnownUsers(ctx context.Context) ([]string, error) {
	defer observe(opKnownUsers)()
	return s.queryStrings(ctx, `
		SELECT user_id::text FROM engagement_events
		UNION
		SELECT user_id::text FROM daily_engagement_scores
		ORDER BY 1`)
}

func (s *PostgresStore) UpsertScore(ctx context.Context, score model.DailyEngagementScore) error {
	defer observe(opUpsertScore)()
	args, err := pgScoreArgs(score)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_engagement_scores (`+scoreColumns+`)
		VALUES ($1, $2::date, $3, $4, $5, $6::jsonb, $7, $8)
		ON CONFLICT (user_id, score_date) DO UPDATE SET
			raw_score = EXCLUDED.raw_score,
			final_score = EXCLUDED.final_score,
			momentum_state = EXCLUDED.momentum_state,
			breakdown = EXCLUDED.breakdown,
			algorithm_version = EXCLUDED.algorithm_version,
			calculated_at = EXCLUDED.calculated_at`, args...)
	return pgErr("upsert score", err)
}

func (s *PostgresStore) InsertDefaultScore(ctx context.Context, score model.DailyEngagementScore) (bool, error) {
	defer observe(opInsertDefault)()
	args, err := pgScoreArgs(score)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_engagement_scores (`+scoreColumns+`)
		VALUES ($1, $2::date, $3, $4, $5, $6::jsonb, $7, $8)
		ON CONFLICT (user_id, score_date) DO NOTHING`, args...)
	if err != nil {
		return false, pgErr("insert default score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, pgErr("insert default score", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	defer observe(opPing)()
	return pgErr("ping", s.db.PingContext(ctx))
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pgErr("query", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, pgErr("scan", err)
		}
		out = append(out, v)
	}
	return out, pgErr("iterate", rows.Err())
}

const pgScoreColumns = `user_id::text, score_date, raw_score, final_score, momentum_state, breakdown::text, algorithm_version, calculated_at`

func scanPGScore(row rowScanner) (model.DailyEngagementScore, error) {
	var (
		score     model.DailyEngagementScore
		scoreDate time.Time
		breakdown string
	)
	if err := row.Scan(&score.UserID, &scoreDate, &score.RawScore, &score.FinalScore,
		&score.MomentumState, &breakdown, &score.AlgorithmVersion, &score.CalculatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return score, err
		}
		return score, pgErr("scan score", err)
	}
	score.ScoreDate = model.DateOf(scoreDate)
	score.CalculatedAt = score.CalculatedAt.UTC()
	var err error
	score.Breakdown, err = decodeBreakdown([]byte(breakdown))
	return score, err
}

func pgScoreArgs(score model.DailyEngagementScore) ([]any, error) {
	breakdown, err := encodeBreakdown(score.Breakdown)
	if err != nil {
		return nil, err
	}
	return []any{
		model.CanonicalUserID(score.UserID), score.ScoreDate.String(), score.RawScore, score.FinalScore,
		string(score.MomentumState), string(breakdown), score.AlgorithmVersion, score.CalculatedAt,
	}, nil
}

// pgErr wraps err with op and maps serialization failures and deadlocks
// to ErrConflict.
func pgErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
