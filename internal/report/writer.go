package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/kalshioracle/internal/models"
)

// SignalsPath is the dated scan report file under dir.
func SignalsPath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("scan_%s.jsonl", now.UTC().Format("2006-01-02")))
}

// MovementsPath is the dated movement report file under dir.
func MovementsPath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("movements_%s.jsonl", now.UTC().Format("2006-01-02")))
}

// WriteSignals appends one JSON line per signal to the day's scan report.
func WriteSignals(dir string, signals []models.MarketSignal, now time.Time) (string, error) {
	path := SignalsPath(dir, now)
	return path, appendLines(path, len(signals), func(i int) any { return signals[i] })
}

// WriteMovements appends one JSON line per alert to the day's movement report.
func WriteMovements(dir string, alerts []models.MovementAlert, now time.Time) (string, error) {
	path := MovementsPath(dir, now)
	return path, appendLines(path, len(alerts), func(i int) any { return alerts[i] })
}

func appendLines(path string, n int, item func(int) any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open report file: %w", err)
	}

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := 0; i < n; i++ {
		if err := enc.Encode(item(i)); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode report line: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return f.Close()
}
