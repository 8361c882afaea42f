package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/kalshioracle/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSignal(ticker string, score float64) models.MarketSignal {
	return models.MarketSignal{
		Ticker:       ticker,
		EventTicker:  "EV-" + ticker,
		Title:        "Will " + ticker + " resolve yes?",
		YesBid:       40,
		YesAsk:       60,
		Spread:       20,
		Midpoint:     50,
		Volume24h:    10,
		AnomalyScore: score,
		Flags:        []string{"wide-spread (20)", "low-volume (10)"},
	}
}

func testAlert(ticker string, magnitude float64) models.MovementAlert {
	return models.MovementAlert{
		Ticker:      ticker,
		EventTicker: "KXEPLGAME-25OCT18ARSFUL",
		Title:       "Arsenal vs Fulham",
		YesBid:      54,
		YesAsk:      56,
		Midpoint:    55,
		Alerts:      []string{fmt.Sprintf("price +%.0f¢ in 2h", magnitude)},
		Magnitude:   magnitude,
	}
}

func TestNew_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if err := s.SaveSignals("run", []models.MarketSignal{testSignal("A", 0.7)}, time.Now()); err != nil {
		t.Fatalf("SaveSignals on file db: %v", err)
	}
}

func TestStorage_SaveAndTopSignals(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	if err := s.SaveSignals("run-1", []models.MarketSignal{testSignal("A", 0.6), testSignal("B", 0.9)}, now); err != nil {
		t.Fatalf("SaveSignals: %v", err)
	}
	if err := s.SaveSignals("run-2", []models.MarketSignal{testSignal("C", 0.75)}, now.Add(time.Minute)); err != nil {
		t.Fatalf("SaveSignals: %v", err)
	}

	top, err := s.TopSignals(2)
	if err != nil {
		t.Fatalf("TopSignals: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(top))
	}
	if top[0].Signal.Ticker != "B" || top[1].Signal.Ticker != "C" {
		t.Errorf("unexpected order: %s, %s", top[0].Signal.Ticker, top[1].Signal.Ticker)
	}
	if top[0].RunID != "run-1" {
		t.Errorf("run id = %q, want run-1", top[0].RunID)
	}
	if len(top[0].Signal.Flags) != 2 || top[0].Signal.Flags[0] != "wide-spread (20)" {
		t.Errorf("flags not round-tripped: %v", top[0].Signal.Flags)
	}
	if !top[0].ScannedAt.Equal(time.Unix(0, now.UnixNano())) {
		t.Errorf("scanned_at = %v, want %v", top[0].ScannedAt, now)
	}
}

func TestStorage_SaveSignals_Empty(t *testing.T) {
	s := newTestStorage(t)
	if err := s.SaveSignals("run", nil, time.Now()); err != nil {
		t.Fatalf("SaveSignals(nil): %v", err)
	}
	top, err := s.TopSignals(10)
	if err != nil {
		t.Fatalf("TopSignals: %v", err)
	}
	if len(top) != 0 {
		t.Errorf("expected no signals, got %d", len(top))
	}
}

func TestStorage_RunSignals(t *testing.T) {
	s := newTestStorage(t)
	if err := s.SaveSignals("run-1", []models.MarketSignal{testSignal("A", 0.6), testSignal("B", 0.9)}, time.Now()); err != nil {
		t.Fatalf("SaveSignals: %v", err)
	}

	got, err := s.RunSignals("run-1")
	if err != nil {
		t.Fatalf("RunSignals: %v", err)
	}
	if len(got) != 2 || got[0].Signal.Ticker != "B" {
		t.Errorf("unexpected run signals: %+v", got)
	}

	if _, err := s.RunSignals("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorage_SaveAlertsAndMarkNotified(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	ids, err := s.SaveAlerts([]models.MovementAlert{testAlert("A", 14), testAlert("B", 8)}, now)
	if err != nil {
		t.Fatalf("SaveAlerts: %v", err)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("expected two distinct ids, got %v", ids)
	}

	if err := s.MarkNotified(ids[:1]); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}

	a, err := s.GetAlert(ids[0])
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !a.Notified {
		t.Error("first alert should be notified")
	}
	if a.Alert.Magnitude != 14 || a.Alert.Alerts[0] != "price +14¢ in 2h" {
		t.Errorf("alert not round-tripped: %+v", a.Alert)
	}

	b, err := s.GetAlert(ids[1])
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if b.Notified {
		t.Error("second alert should not be notified")
	}
}

func TestStorage_GetAlert_NotFound(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.GetAlert("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorage_MarkNotified_Empty(t *testing.T) {
	s := newTestStorage(t)
	if err := s.MarkNotified(nil); err != nil {
		t.Errorf("MarkNotified(nil): %v", err)
	}
}

func TestStorage_RecentAlerts(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	if _, err := s.SaveAlerts([]models.MovementAlert{testAlert("OLD", 5)}, now.Add(-3*time.Hour)); err != nil {
		t.Fatalf("SaveAlerts: %v", err)
	}
	if _, err := s.SaveAlerts([]models.MovementAlert{testAlert("NEW", 9)}, now); err != nil {
		t.Fatalf("SaveAlerts: %v", err)
	}

	recent, err := s.RecentAlerts(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(recent) != 1 || recent[0].Alert.Ticker != "NEW" {
		t.Errorf("unexpected recent alerts: %+v", recent)
	}
}

func TestStorage_LastNotified(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	first, err := s.SaveAlerts([]models.MovementAlert{testAlert("A", 6)}, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("SaveAlerts: %v", err)
	}
	second, err := s.SaveAlerts([]models.MovementAlert{testAlert("A", 11), testAlert("B", 7)}, now)
	if err != nil {
		t.Fatalf("SaveAlerts: %v", err)
	}
	if err := s.MarkNotified(append(first, second[0])); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}

	last, err := s.LastNotified(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("LastNotified: %v", err)
	}
	if len(last) != 1 {
		t.Fatalf("expected one ticker, got %d", len(last))
	}
	if last["A"].Alert.Magnitude != 11 {
		t.Errorf("expected the newest notified alert, got magnitude %.0f", last["A"].Alert.Magnitude)
	}
}

func TestStorage_Rotate(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	if err := s.SaveSignals("old", []models.MarketSignal{testSignal("A", 0.6)}, old); err != nil {
		t.Fatalf("SaveSignals: %v", err)
	}
	if err := s.SaveSignals("new", []models.MarketSignal{testSignal("B", 0.6)}, now); err != nil {
		t.Fatalf("SaveSignals: %v", err)
	}
	if _, err := s.SaveAlerts([]models.MovementAlert{testAlert("A", 5)}, old); err != nil {
		t.Fatalf("SaveAlerts: %v", err)
	}

	removed, err := s.Rotate(24 * time.Hour)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	top, _ := s.TopSignals(10)
	if len(top) != 1 || top[0].Signal.Ticker != "B" {
		t.Errorf("unexpected signals after rotate: %+v", top)
	}

	if n, err := s.Rotate(0); err != nil || n != 0 {
		t.Errorf("Rotate(0) = %d, %v; want 0, nil", n, err)
	}
}
