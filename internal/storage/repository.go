package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	ensureSchemaSQL = `CREATE TABLE IF NOT EXISTS census_runs (
        run_id           TEXT PRIMARY KEY,
        started_at       TIMESTAMPTZ NOT NULL,
        finished_at      TIMESTAMPTZ NOT NULL,
        status           TEXT NOT NULL,
        game_count       INTEGER NOT NULL DEFAULT 0,
        total_wealth     NUMERIC NOT NULL DEFAULT 0,
        top_prize_sum    NUMERIC NOT NULL DEFAULT 0,
        birth_count      INTEGER NOT NULL DEFAULT 0,
        death_count      INTEGER NOT NULL DEFAULT 0,
        revival_count    INTEGER NOT NULL DEFAULT 0,
        skipped_count    INTEGER NOT NULL DEFAULT 0,
        anomaly          BOOLEAN NOT NULL DEFAULT FALSE,
        wealth_deviation NUMERIC,
        fingerprint      TEXT NOT NULL DEFAULT '',
        archived         BOOLEAN NOT NULL DEFAULT FALSE,
        error            TEXT,
        created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	upsertRunSQL = `INSERT INTO census_runs (
        run_id,
        started_at,
        finished_at,
        status,
        game_count,
        total_wealth,
        top_prize_sum,
        birth_count,
        death_count,
        revival_count,
        skipped_count,
        anomaly,
        wealth_deviation,
        fingerprint,
        archived,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
    )
    ON CONFLICT (run_id) DO UPDATE
    SET
        finished_at      = EXCLUDED.finished_at,
        status           = EXCLUDED.status,
        game_count       = EXCLUDED.game_count,
        total_wealth     = EXCLUDED.total_wealth,
        top_prize_sum    = EXCLUDED.top_prize_sum,
        birth_count      = EXCLUDED.birth_count,
        death_count      = EXCLUDED.death_count,
        revival_count    = EXCLUDED.revival_count,
        skipped_count    = EXCLUDED.skipped_count,
        anomaly          = EXCLUDED.anomaly,
        wealth_deviation = EXCLUDED.wealth_deviation,
        fingerprint      = EXCLUDED.fingerprint,
        archived         = EXCLUDED.archived,
        error            = EXCLUDED.error;`

	listRecentRunsSQL = `SELECT
        run_id,
        started_at,
        finished_at,
        status,
        game_count,
        total_wealth::text,
        top_prize_sum::text,
        birth_count,
        death_count,
        revival_count,
        skipped_count,
        anomaly,
        wealth_deviation::text,
        fingerprint,
        archived,
        error
    FROM census_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	countRunsSQL = `SELECT COUNT(*) FROM census_runs;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore defines operations for the census audit log.
type RunStore interface {
	UpsertRun(ctx context.Context, run RunRecord) error
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	CountRuns(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the Postgres-backed audit log of census runs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the audit table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, ensureSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertRun persists or updates a census run.
func (s *Store) UpsertRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var deviation interface{}
	if run.WealthDeviation != nil {
		deviation = run.WealthDeviation.String()
	}

	var errMsg interface{}
	if run.Error != nil {
		errMsg = *run.Error
	}

	_, execErr := pool.Exec(ctx, upsertRunSQL,
		run.RunID,
		run.StartedAt,
		run.FinishedAt,
		run.Status,
		run.GameCount,
		run.TotalWealth.String(),
		run.TopPrizeSum.String(),
		run.BirthCount,
		run.DeathCount,
		run.RevivalCount,
		run.SkippedCount,
		run.Anomaly,
		deviation,
		run.Fingerprint,
		run.Archived,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert census run: %w", execErr)
	}
	return nil
}

// ListRecentRuns lists the most recent runs ordered by descending start time.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// CountRuns counts stored runs.
func (s *Store) CountRuns(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRunsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count runs: %w", scanErr)
	}
	return count, nil
}

func scanRun(rows pgx.Rows) (RunRecord, error) {
	var (
		run          RunRecord
		wealthStr    string
		topPrizeStr  string
		deviationStr sql.NullString
		errMsg       sql.NullString
	)

	if err := rows.Scan(
		&run.RunID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.GameCount,
		&wealthStr,
		&topPrizeStr,
		&run.BirthCount,
		&run.DeathCount,
		&run.RevivalCount,
		&run.SkippedCount,
		&run.Anomaly,
		&deviationStr,
		&run.Fingerprint,
		&run.Archived,
		&errMsg,
	); err != nil {
		return RunRecord{}, err
	}

	var err error
	run.TotalWealth, err = decimal.NewFromString(wealthStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("parse total wealth: %w", err)
	}
	run.TopPrizeSum, err = decimal.NewFromString(topPrizeStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("parse top prize sum: %w", err)
	}
	if deviationStr.Valid {
		deviation, convErr := decimal.NewFromString(deviationStr.String)
		if convErr != nil {
			return RunRecord{}, fmt.Errorf("parse wealth deviation: %w", convErr)
		}
		run.WealthDeviation = &deviation
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.Error = &msg
	}

	return run, nil
}

var (
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
