// Package journal writes the append-only JSON-lines audit trail: one file
// per run, one independent JSON object per line. This is the engine's most
// compatibility-sensitive artifact; field names here are load-bearing for
// downstream tooling.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Severity string

const (
	SevInfo    Severity = "info"
	SevWarning Severity = "warning"
	SevError   Severity = "error"
)

// Event is one audit line.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	RunID     string         `json:"run_id"`
	Type      string         `json:"event"`
	Severity  Severity       `json:"severity"`
	Phase     string         `json:"phase,omitempty"`
	Ticker    string         `json:"ticker,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Journal appends events for one run. Safe for concurrent emitters.
type Journal struct {
	mu    sync.Mutex
	file  *os.File
	runID string
	now   func() time.Time
}

// Open creates the run's journal file under dir.
func Open(dir, runID string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	name := fmt.Sprintf("run-%s-%s.jsonl", time.Now().UTC().Format("20060102"), runID)
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{file: f, runID: runID, now: time.Now}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.file.Name() }

// Emit appends one event. Journal write failures are logged, not
// propagated: losing an audit line must not abort a run already in flight.
func (j *Journal) Emit(typ string, sev Severity, opts ...Option) {
	e := Event{
		Timestamp: j.now().UTC(),
		RunID:     j.runID,
		Type:      typ,
		Severity:  sev,
	}
	for _, opt := range opts {
		opt(&e)
	}

	line, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event", typ).Msg("journal marshal failed")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		log.Error().Err(err).Str("event", typ).Msg("journal write failed")
	}
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Option attaches optional fields to an event.
type Option func(*Event)

func WithPhase(phase string) Option   { return func(e *Event) { e.Phase = phase } }
func WithTicker(ticker string) Option { return func(e *Event) { e.Ticker = ticker } }
func WithData(data map[string]any) Option {
	return func(e *Event) { e.Data = data }
}
