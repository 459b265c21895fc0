package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphaledger/signalrun/internal/pipeline"
)

func TestRecordRun_InsertsRunAndPositions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewWithDB(sqlx.NewDb(db, "postgres"))

	run := &pipeline.RunContext{
		RunID: "run-1",
		Date:  "2026-03-02",
		Mode:  pipeline.ModeLong,
		BMI:   pipeline.BMIData{Value: 42, Classification: "neutral_long"},
		Macro: pipeline.MacroRegime{VIX: 18.5, Band: "normal"},
		Positions: []pipeline.Position{
			{Symbol: "NVDA", Sector: "technology", Direction: pipeline.ModeLong,
				Entry: 500, Stop: 485, Target1: 520, Target2: 535, Quantity: 40,
				RiskUSD: 600, Score: 72, VolRegime: "suppressive",
				Multipliers: pipeline.Multipliers{Combined: 1.1}},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", "2026-03-02", "LONG", 42.0, "neutral_long", 18.5, "normal", 0, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO positions").
		WithArgs("run-1", "NVDA", "technology", "LONG", 500.0, 485.0, 520.0, 535.0,
			40, 600.0, 72.0, "suppressive", 1.1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RecordRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRun_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewWithDB(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = store.RecordRun(context.Background(), &pipeline.RunContext{RunID: "run-2"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
