// Package pipeline implements the seven-phase decision pipeline. Phases
// run strictly in sequence; each consumes the RunContext built so far and
// returns a new partial result. No phase mutates an earlier phase's output.
package pipeline

import (
	"context"
	"time"

	"github.com/alphaledger/signalrun/internal/config"
	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/providers"
	"github.com/alphaledger/signalrun/internal/state"
)

// Mode is the run's strategy direction, decided once in Phase 1.
type Mode string

const (
	ModeLong  Mode = "LONG"
	ModeShort Mode = "SHORT"
)

// HaltError is a Phase 0 halt condition: the run stops before producing
// any output, surfacing a single named reason.
type HaltError struct {
	Reason string
}

func (e *HaltError) Error() string { return "run halted: " + e.Reason }

// MacroRegime is the Phase 0 macro assessment, read-only afterwards.
type MacroRegime struct {
	VIX           float64
	VIXSource     string // fred | polygon | default
	Band          string // calm | normal | elevated | high | extreme
	Multiplier    float64
	Yield10Y      float64
	YieldMA       float64
	RateSensitive bool
}

// BMIData is the Phase 1 market-breadth assessment.
type BMIData struct {
	Value          float64 // 25-sample MA of daily buy ratios
	Classification string  // aggressive_long | neutral_long | short_favoring
	Divergence     bool
	DaysCovered    int
	FailSafe       bool // insufficient history, defaulted to neutral/LONG
}

// SectorScore is one sector's Phase 3 outcome.
type SectorScore struct {
	ETF            string
	Sector         string
	Momentum       float64
	TrendUp        bool
	Classification string // leader | neutral | laggard
	Regime         string // oversold | neutral | overbought
	Vetoed         bool
	VetoReason     string
	Adjustment     float64
	Benchmark      bool // bond benchmark: scored, never vetoes
}

// StockAnalysis is one ticker's Phase 4 outcome. Phase 6 touches it once,
// applying the freshness multiplier to Score while keeping OriginalScore.
type StockAnalysis struct {
	Ticker        providers.TickerInfo
	Technical     float64
	Flow          float64
	Fundamental   float64
	SectorAdj     float64
	Score         float64
	OriginalScore float64
	Shark         bool
	Excluded      bool
	Reason        string

	// Carried for Phase 5/6 without refetching.
	Bars     []providers.Bar
	FlowData providers.FlowActivity
	HasFlow  bool
}

// VolRegime is one ticker's Phase 5 outcome.
type VolRegime struct {
	Symbol       string
	NetExposure  float64
	UpperWall    float64
	LowerWall    float64
	ZeroCrossing float64 // 0 when unknown
	Regime       string  // suppressive | transitional | destabilizing
	Multiplier   float64
	DataMissing  bool
	Excluded     bool
	Reason       string
}

// Multipliers are the six sizing factors, recorded per position for audit.
type Multipliers struct {
	Flow        float64
	Insider     float64
	Fundamental float64
	VolRegime   float64
	MacroVol    float64
	Utility     float64
	Combined    float64 // product clamped to the configured range
}

// Position is the terminal entity: one risk-sized order.
type Position struct {
	Symbol        string
	Sector        string
	Direction     Mode
	Entry         float64
	Stop          float64
	Target1       float64
	Target2       float64
	Quantity      int
	QuantityLeg1  int
	QuantityLeg2  int
	RiskUSD       float64
	Score         float64
	OriginalScore float64
	Fresh         bool
	VolRegime     string
	Multipliers   Multipliers
	Hash          string
}

// RunContext accumulates phase outputs. Each phase writes only its own
// fields; everything already written is read-only.
type RunContext struct {
	RunID string
	Date  string
	Cfg   config.Config

	Macro     MacroRegime
	Mode      Mode
	BMI       BMIData
	Screener  []providers.TickerInfo
	Universe  []providers.TickerInfo
	Sectors   map[string]*SectorScore // sector name -> score
	Analyses  []*StockAnalysis
	VolByTick map[string]*VolRegime
	Positions []Position
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Cfg       config.Config
	Providers *providers.Registry
	State     *state.Store
	Journal   *journal.Journal
	Recorder  Recorder
	Now       func() time.Time

	// SectorRegime optionally supplies the per-sector sentiment regime
	// (oversold, neutral, overbought) from an external source. Nil
	// derives it from momentum against the sector's thresholds.
	SectorRegime func(sector string, momentum float64) string

	// DryRun sizes positions without recording signals to state, so a
	// rehearsal never consumes the same-day dedup budget.
	DryRun bool
}

// Recorder persists run results to external storage. Optional; failures
// are logged and never affect the run outcome.
type Recorder interface {
	RecordRun(ctx context.Context, run *RunContext) error
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) emit(typ string, sev journal.Severity, opts ...journal.Option) {
	if d.Journal != nil {
		d.Journal.Emit(typ, sev, opts...)
	}
}
