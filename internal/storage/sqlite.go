package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/san-kum/pidtune/internal/pid"
)

// SQLiteStore persists campaigns in a single SQLite file. Writes go through
// one connection, so concurrent runs append without lock contention.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("storage: sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("storage: create tables: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) AppendGenerations(ctx context.Context, records []GenerationRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO generations (run_id, method, iteration, generation, best, mean, worst, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.RunID, r.Method, r.Iteration, r.Generation,
			r.Best, r.Mean, r.Worst, r.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("storage: append generation %d of %s: %w", r.Generation, r.RunID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendResult(ctx context.Context, r TunedResult) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO results (
			run_id, campaign_id, campaign_started, method, iteration, seed,
			kp, ki, kd, cost, mse, overshoot, settling_time, gain_margin, phase_margin,
			evaluations, elapsed, ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.CampaignID, r.CampaignStarted.UnixNano(), r.Method, r.Iteration, r.Seed,
		r.Gains.Kp(), r.Gains.Ki(), r.Gains.Kd(), r.Cost,
		r.Performance.MSE, r.Performance.Overshoot, r.Performance.SettlingTime,
		r.Performance.GainMargin, r.Performance.PhaseMargin,
		r.Evaluations, int64(r.Elapsed), r.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("storage: append result %s: %w", r.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) AppendRobustness(ctx context.Context, records []RobustnessRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO robustness (
			run_id, campaign_id, method, scenario, kp, ki, kd,
			mse, overshoot, settling_time, deviation, failed, ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.RunID, r.CampaignID, r.Method, r.Scenario,
			r.Gains.Kp(), r.Gains.Ki(), r.Gains.Kd(),
			r.MSE, r.Overshoot, r.SettlingTime, r.Deviation, r.Failed, r.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("storage: append robustness %s/%s: %w", r.Method, r.Scenario, err)
		}
	}
	return tx.Commit()
}

const resultColumns = `
	run_id, campaign_id, campaign_started, method, iteration, seed,
	kp, ki, kd, cost, mse, overshoot, settling_time, gain_margin, phase_margin,
	evaluations, elapsed, ts`

func (s *SQLiteStore) ResultsByMethod(ctx context.Context) (map[string][]TunedResult, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+resultColumns+` FROM results
		ORDER BY method, campaign_started DESC, campaign_id, iteration`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]TunedResult)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out[r.Method] = append(out[r.Method], r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestResult(ctx context.Context, method string) (TunedResult, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return TunedResult{}, false, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results
		WHERE method = ? ORDER BY ts DESC, id DESC LIMIT 1`, method)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TunedResult{}, false, nil
	}
	if err != nil {
		return TunedResult{}, false, err
	}
	return r, true, nil
}

func (s *SQLiteStore) Generations(ctx context.Context, runID string) ([]GenerationRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, method, iteration, generation, best, mean, worst, ts
		FROM generations WHERE run_id = ? ORDER BY generation, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenerationRecord
	for rows.Next() {
		var (
			r  GenerationRecord
			ts int64
		)
		if err := rows.Scan(&r.RunID, &r.Method, &r.Iteration, &r.Generation,
			&r.Best, &r.Mean, &r.Worst, &ts); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Robustness(ctx context.Context) (map[string][]RobustnessRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, campaign_id, method, scenario, kp, ki, kd,
			mse, overshoot, settling_time, deviation, failed, ts
		FROM robustness ORDER BY method, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]RobustnessRecord)
	for rows.Next() {
		var (
			r          RobustnessRecord
			kp, ki, kd float64
			ts         int64
		)
		if err := rows.Scan(&r.RunID, &r.CampaignID, &r.Method, &r.Scenario, &kp, &ki, &kd,
			&r.MSE, &r.Overshoot, &r.SettlingTime, &r.Deviation, &r.Failed, &ts); err != nil {
			return nil, err
		}
		r.Gains = pid.New(kp, ki, kd)
		r.Timestamp = time.Unix(0, ts).UTC()
		out[r.Method] = append(out[r.Method], r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		DELETE FROM generations;
		DELETE FROM results;
		DELETE FROM robustness;
	`)
	return err
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (TunedResult, error) {
	var (
		r                TunedResult
		kp, ki, kd       float64
		started, elapsed int64
		ts               int64
	)
	err := sc.Scan(&r.RunID, &r.CampaignID, &started, &r.Method, &r.Iteration, &r.Seed,
		&kp, &ki, &kd, &r.Cost,
		&r.Performance.MSE, &r.Performance.Overshoot, &r.Performance.SettlingTime,
		&r.Performance.GainMargin, &r.Performance.PhaseMargin,
		&r.Evaluations, &elapsed, &ts)
	if err != nil {
		return TunedResult{}, err
	}
	r.Gains = pid.New(kp, ki, kd)
	r.CampaignStarted = time.Unix(0, started).UTC()
	r.Elapsed = time.Duration(elapsed)
	r.Timestamp = time.Unix(0, ts).UTC()
	return r, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS generations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			method TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			generation INTEGER NOT NULL,
			best REAL NOT NULL,
			mean REAL NOT NULL,
			worst REAL NOT NULL,
			ts INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS generations_run ON generations (run_id);
		CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			campaign_started INTEGER NOT NULL,
			method TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			kp REAL NOT NULL,
			ki REAL NOT NULL,
			kd REAL NOT NULL,
			cost REAL NOT NULL,
			mse REAL NOT NULL,
			overshoot REAL NOT NULL,
			settling_time REAL NOT NULL,
			gain_margin REAL NOT NULL,
			phase_margin REAL NOT NULL,
			evaluations INTEGER NOT NULL,
			elapsed INTEGER NOT NULL,
			ts INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS results_method ON results (method);
		CREATE TABLE IF NOT EXISTS robustness (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			method TEXT NOT NULL,
			scenario TEXT NOT NULL,
			kp REAL NOT NULL,
			ki REAL NOT NULL,
			kd REAL NOT NULL,
			mse REAL NOT NULL,
			overshoot REAL NOT NULL,
			settling_time REAL NOT NULL,
			deviation REAL NOT NULL,
			failed INTEGER NOT NULL,
			ts INTEGER NOT NULL
		);
	`)
	return err
}
