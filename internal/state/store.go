// Package state persists the engine's run-to-run memory: daily trade and
// notional counters, the same-day signal-hash set, the rolling BMI/sector
// history, and the externally managed manual drawdown breaker flag. All
// writes go through temp-file-plus-rename so a crash mid-write cannot
// corrupt state consumed by the next run.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/atomicio"
)

const historyLimit = 90

// Daily tracks date-scoped counters; reset when the date rolls over.
type Daily struct {
	Date            string  `json:"date"`
	TradesPlanned   int     `json:"trades_planned"`
	NotionalPlanned float64 `json:"notional_planned"`
}

// SignalRecord is one emitted signal, kept for dedup and freshness.
type SignalRecord struct {
	Date      string `json:"date"`
	Symbol    string `json:"symbol"`
	Direction string `json:"direction"`
	Hash      string `json:"hash"`
}

// HistoryPoint is one day's BMI value and sector momentum snapshot.
type HistoryPoint struct {
	Date           string             `json:"date"`
	BMI            float64            `json:"bmi"`
	SectorMomentum map[string]float64 `json:"sector_momentum,omitempty"`
}

// ManualBreaker is the externally managed drawdown flag. This engine only
// reads it; resetting requires manual operator action.
type ManualBreaker struct {
	Active bool      `json:"active"`
	Reason string    `json:"reason"`
	SetAt  time.Time `json:"set_at"`
}

// Store owns the state files for one run. Single-writer: one run at a time.
type Store struct {
	dir     string
	now     func() time.Time
	daily   Daily
	signals []SignalRecord
	history []HistoryPoint
}

// Open loads state from dir, creating it if absent and resetting the daily
// counters when the stored date is not today.
func Open(dir string) (*Store, error) {
	return open(dir, time.Now)
}

func open(dir string, now func() time.Time) (*Store, error) {
	s := &Store{dir: dir, now: now}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	if err := atomicio.ReadJSON(s.path("daily.json"), &s.daily); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read daily state: %w", err)
	}
	if err := atomicio.ReadJSON(s.path("signals.json"), &s.signals); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read signal history: %w", err)
	}
	if err := atomicio.ReadJSON(s.path("history.json"), &s.history); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read rolling history: %w", err)
	}

	if s.daily.Date != s.today() {
		log.Info().Str("prev_date", s.daily.Date).Str("date", s.today()).
			Msg("daily state date rolled, resetting counters")
		s.daily = Daily{Date: s.today()}
		if err := s.persistDaily(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) today() string { return s.now().UTC().Format("2006-01-02") }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// SignalHash derives the dedup hash for (symbol, direction, date).
func SignalHash(symbol, direction, date string) string {
	sum := sha256.Sum256([]byte(symbol + "|" + direction + "|" + date))
	return hex.EncodeToString(sum[:])
}

// SeenToday reports whether the hash was already emitted on today's date.
func (s *Store) SeenToday(hash string) bool {
	today := s.today()
	for _, r := range s.signals {
		if r.Date == today && r.Hash == hash {
			return true
		}
	}
	return false
}

// RecordSignal appends an emitted signal and bumps the daily counters.
func (s *Store) RecordSignal(symbol, direction string, notional float64) error {
	today := s.today()
	s.signals = append(s.signals, SignalRecord{
		Date:      today,
		Symbol:    symbol,
		Direction: direction,
		Hash:      SignalHash(symbol, direction, today),
	})
	s.trimSignals()
	s.daily.TradesPlanned++
	s.daily.NotionalPlanned += notional

	if err := atomicio.WriteJSON(s.path("signals.json"), s.signals); err != nil {
		return fmt.Errorf("persist signals: %w", err)
	}
	return s.persistDaily()
}

// SeenWithin reports whether any signal for symbol exists in the last
// windowDays days, today excluded. Used for the freshness bonus.
func (s *Store) SeenWithin(symbol string, windowDays int) bool {
	today := s.today()
	cutoff := s.now().UTC().AddDate(0, 0, -windowDays).Format("2006-01-02")
	for _, r := range s.signals {
		if r.Symbol == symbol && r.Date < today && r.Date >= cutoff {
			return true
		}
	}
	return false
}

// Daily returns the current date-scoped counters.
func (s *Store) Daily() Daily { return s.daily }

// AppendHistory adds or replaces the point for its date and trims the
// rolling window to the last 90 entries.
func (s *Store) AppendHistory(p HistoryPoint) error {
	replaced := false
	for i := range s.history {
		if s.history[i].Date == p.Date {
			s.history[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		s.history = append(s.history, p)
	}
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	return atomicio.WriteJSON(s.path("history.json"), s.history)
}

// History returns the rolling BMI/sector history, oldest first.
func (s *Store) History() []HistoryPoint { return s.history }

func (s *Store) persistDaily() error {
	if err := atomicio.WriteJSON(s.path("daily.json"), s.daily); err != nil {
		return fmt.Errorf("persist daily state: %w", err)
	}
	return nil
}

// trimSignals drops records older than the history limit in days.
func (s *Store) trimSignals() {
	cutoff := s.now().UTC().AddDate(0, 0, -historyLimit).Format("2006-01-02")
	kept := s.signals[:0]
	for _, r := range s.signals {
		if r.Date >= cutoff {
			kept = append(kept, r)
		}
	}
	s.signals = kept
}

// ReadManualBreaker reads the externally managed drawdown flag. A missing
// file means the breaker is not set.
func ReadManualBreaker(path string) (ManualBreaker, error) {
	var mb ManualBreaker
	err := atomicio.ReadJSON(path, &mb)
	if os.IsNotExist(err) {
		return ManualBreaker{}, nil
	}
	if err != nil {
		return ManualBreaker{}, fmt.Errorf("read manual breaker: %w", err)
	}
	return mb, nil
}
