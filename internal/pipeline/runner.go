package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/artifacts"
	"github.com/alphaledger/signalrun/internal/journal"
)

// Run executes the full pipeline for one session. It either completes,
// halts at Phase 0 with a HaltError, or fails hard on an unexpected
// error inside a phase.
func (d Deps) Run(ctx context.Context, runID string) (*RunContext, error) {
	run := &RunContext{
		RunID: runID,
		Date:  d.now().UTC().Format("2006-01-02"),
		Cfg:   d.Cfg,
	}

	phase := func(name string, fn func() error) error {
		d.emit("phase_start", journal.SevInfo, journal.WithPhase(name))
		if err := fn(); err != nil {
			d.emit("phase_failed", journal.SevError, journal.WithPhase(name),
				journal.WithData(map[string]any{"error": err.Error()}))
			return err
		}
		d.emit("phase_complete", journal.SevInfo, journal.WithPhase(name))
		return nil
	}

	if err := phase("diagnostics", func() error {
		macro, err := d.Diagnostics(ctx)
		if err != nil {
			return err
		}
		run.Macro = macro
		return nil
	}); err != nil {
		return run, err
	}

	if err := phase("regime", func() error {
		screener, ok := d.Providers.FMP.Screener(ctx)
		if !ok {
			return &HaltError{Reason: "screener snapshot unavailable"}
		}
		run.Screener = screener
		run.BMI, run.Mode = d.Regime(ctx, screener)
		return nil
	}); err != nil {
		return run, err
	}

	if err := phase("universe", func() error {
		run.Universe = d.Universe(ctx, run.Mode, run.Screener)
		return nil
	}); err != nil {
		return run, err
	}

	if err := phase("sectors", func() error {
		run.Sectors = d.Sectors(ctx, run.Mode, run.Macro, run.BMI)
		return nil
	}); err != nil {
		return run, err
	}

	if err := phase("scoring", func() error {
		run.Analyses = d.Score(ctx, run)
		return nil
	}); err != nil {
		return run, err
	}

	if err := phase("vol_regime", func() error {
		run.VolByTick = d.VolRegimes(ctx, run)
		return nil
	}); err != nil {
		return run, err
	}

	if err := phase("sizing", func() error {
		run.Positions = d.SizePositions(run)
		return nil
	}); err != nil {
		return run, err
	}

	if err := d.writeArtifacts(run); err != nil {
		return run, fmt.Errorf("write artifacts: %w", err)
	}

	if d.Recorder != nil {
		if err := d.Recorder.RecordRun(ctx, run); err != nil {
			log.Warn().Err(err).Msg("run recorder failed, results not persisted to database")
		}
	}

	d.emit("run_complete", journal.SevInfo, journal.WithData(map[string]any{
		"mode": string(run.Mode), "universe": len(run.Universe),
		"analyzed": len(run.Analyses), "positions": len(run.Positions),
	}))
	return run, nil
}

var planHeader = []string{
	"symbol", "direction", "order_type", "limit_price", "quantity",
	"quantity_leg1", "quantity_leg2", "stop", "target1", "target2",
	"risk_usd", "score", "original_score", "vol_regime", "sector",
	"mult_flow", "mult_insider", "mult_fundamental", "mult_vol_regime",
	"mult_macro", "mult_utility", "mult_combined",
}

var matrixHeader = []string{
	"symbol", "sector", "score", "technical", "flow", "fundamental",
	"sector_adj", "shark", "accepted", "reason",
}

func (d Deps) writeArtifacts(run *RunContext) error {
	planRows := make([][]string, 0, len(run.Positions))
	for _, p := range run.Positions {
		planRows = append(planRows, []string{
			p.Symbol, string(p.Direction), "limit", f2(p.Entry),
			strconv.Itoa(p.Quantity), strconv.Itoa(p.QuantityLeg1), strconv.Itoa(p.QuantityLeg2),
			f2(p.Stop), f2(p.Target1), f2(p.Target2),
			f2(p.RiskUSD), f2(p.Score), f2(p.OriginalScore), p.VolRegime, p.Sector,
			f2(p.Multipliers.Flow), f2(p.Multipliers.Insider), f2(p.Multipliers.Fundamental),
			f2(p.Multipliers.VolRegime), f2(p.Multipliers.MacroVol), f2(p.Multipliers.Utility),
			f2(p.Multipliers.Combined),
		})
	}
	if err := artifacts.WriteCSV(artifacts.PlanPath(d.Cfg.Runtime.OutputDir, run.Date), planHeader, planRows); err != nil {
		return err
	}

	matrixRows := make([][]string, 0, len(run.Analyses))
	for _, a := range run.Analyses {
		reason := a.Reason
		accepted := !a.Excluded
		if accepted {
			if v, has := run.VolByTick[a.Ticker.Symbol]; has && v.Excluded {
				accepted = false
				reason = v.Reason
			}
		}
		matrixRows = append(matrixRows, []string{
			a.Ticker.Symbol, a.Ticker.Sector, f2(a.Score), f2(a.Technical), f2(a.Flow),
			f2(a.Fundamental), f2(a.SectorAdj), strconv.FormatBool(a.Shark),
			strconv.FormatBool(accepted), reason,
		})
	}
	return artifacts.WriteCSV(artifacts.ScanMatrixPath(d.Cfg.Runtime.OutputDir, run.Date), matrixHeader, matrixRows)
}

func f2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
