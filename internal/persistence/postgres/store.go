// Package postgres records run results to a relational store when the
// runtime config provides a DSN. Recording is strictly best-effort: a
// database failure logs a warning and never affects the run outcome.
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	run_date     DATE NOT NULL,
	mode         TEXT NOT NULL,
	bmi          DOUBLE PRECISION NOT NULL,
	bmi_class    TEXT NOT NULL,
	vix          DOUBLE PRECISION NOT NULL,
	macro_band   TEXT NOT NULL,
	universe     INTEGER NOT NULL,
	positions    INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS positions (
	run_id       TEXT NOT NULL REFERENCES runs(run_id),
	symbol       TEXT NOT NULL,
	sector       TEXT NOT NULL,
	direction    TEXT NOT NULL,
	entry        DOUBLE PRECISION NOT NULL,
	stop         DOUBLE PRECISION NOT NULL,
	target1      DOUBLE PRECISION NOT NULL,
	target2      DOUBLE PRECISION NOT NULL,
	quantity     INTEGER NOT NULL,
	risk_usd     DOUBLE PRECISION NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	vol_regime   TEXT NOT NULL,
	multiplier   DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, symbol)
);
`

// Store is the sqlx-backed run recorder.
type Store struct {
	db *sqlx.DB
}

// Open connects and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// RecordRun inserts the run summary and its sized positions in one
// transaction.
func (s *Store) RecordRun(ctx context.Context, run *pipeline.RunContext) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, run_date, mode, bmi, bmi_class, vix, macro_band, universe, positions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.RunID, run.Date, string(run.Mode), run.BMI.Value, run.BMI.Classification,
		run.Macro.VIX, run.Macro.Band, len(run.Universe), len(run.Positions))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, p := range run.Positions {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO positions (run_id, symbol, sector, direction, entry, stop, target1, target2, quantity, risk_usd, score, vol_regime, multiplier)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			run.RunID, p.Symbol, p.Sector, string(p.Direction), p.Entry, p.Stop,
			p.Target1, p.Target2, p.Quantity, p.RiskUSD, p.Score, p.VolRegime,
			p.Multipliers.Combined)
		if err != nil {
			return fmt.Errorf("insert position %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	log.Info().Str("run_id", run.RunID).Int("positions", len(run.Positions)).
		Msg("run recorded to postgres")
	return nil
}
