// Package storage provides SQLite-backed persistence for scan signals and
// movement alerts.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/kalshioracle/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sqlx.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/kalshioracle/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "kalshioracle", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_signals (
			id            TEXT PRIMARY KEY,
			run_id        TEXT NOT NULL,
			ticker        TEXT NOT NULL,
			event_ticker  TEXT,
			title         TEXT NOT NULL,
			anomaly_score REAL NOT NULL,
			spread        REAL NOT NULL,
			volume_24h    INTEGER NOT NULL,
			payload       TEXT NOT NULL,
			scanned_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS movement_alerts (
			id           TEXT PRIMARY KEY,
			ticker       TEXT NOT NULL,
			event_ticker TEXT,
			magnitude    REAL NOT NULL,
			payload      TEXT NOT NULL,
			detected_at  INTEGER NOT NULL,
			notified     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_run ON scan_signals(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_score ON scan_signals(anomaly_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON movement_alerts(detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ticker ON movement_alerts(ticker, detected_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type signalRow struct {
	ID          string `db:"id"`
	RunID       string `db:"run_id"`
	Payload     string `db:"payload"`
	ScannedAtNs int64  `db:"scanned_at"`
}

type alertRow struct {
	ID           string `db:"id"`
	Payload      string `db:"payload"`
	DetectedAtNs int64  `db:"detected_at"`
	Notified     bool   `db:"notified"`
}

// SaveSignals records one scan run in a single transaction.
func (s *Storage) SaveSignals(runID string, signals []models.MarketSignal, at time.Time) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, sig := range signals {
		payload, err := json.Marshal(sig)
		if err != nil {
			return fmt.Errorf("failed to marshal signal %s: %w", sig.Ticker, err)
		}
		_, err = tx.Exec(`
			INSERT INTO scan_signals
				(id, run_id, ticker, event_ticker, title, anomaly_score, spread, volume_24h, payload, scanned_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			uuid.NewString(), runID, sig.Ticker, sig.EventTicker, sig.Title,
			sig.AnomalyScore, sig.Spread, sig.Volume24h, string(payload), at.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert signal: %w", err)
		}
	}
	return tx.Commit()
}

// TopSignals returns the k highest-scoring signals across all runs.
func (s *Storage) TopSignals(k int) ([]models.StoredSignal, error) {
	var rows []signalRow
	err := s.db.Select(&rows, `
		SELECT id, run_id, payload, scanned_at FROM scan_signals
		ORDER BY anomaly_score DESC, scanned_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	return decodeSignals(rows)
}

// RunSignals returns the signals of one scan run in score order.
func (s *Storage) RunSignals(runID string) ([]models.StoredSignal, error) {
	var rows []signalRow
	err := s.db.Select(&rows, `
		SELECT id, run_id, payload, scanned_at FROM scan_signals
		WHERE run_id = ? ORDER BY anomaly_score DESC, rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return decodeSignals(rows)
}

func decodeSignals(rows []signalRow) ([]models.StoredSignal, error) {
	out := make([]models.StoredSignal, 0, len(rows))
	for _, r := range rows {
		st := models.StoredSignal{ID: r.ID, RunID: r.RunID, ScannedAt: time.Unix(0, r.ScannedAtNs)}
		if err := json.Unmarshal([]byte(r.Payload), &st.Signal); err != nil {
			return nil, fmt.Errorf("failed to decode signal %s: %w", r.ID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// SaveAlerts records movement alerts and returns their IDs in input order.
func (s *Storage) SaveAlerts(alerts []models.MovementAlert, at time.Time) ([]string, error) {
	ids := make([]string, 0, len(alerts))
	if len(alerts) == 0 {
		return ids, nil
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, a := range alerts {
		payload, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal alert %s: %w", a.Ticker, err)
		}
		id := uuid.NewString()
		_, err = tx.Exec(`
			INSERT INTO movement_alerts (id, ticker, event_ticker, magnitude, payload, detected_at)
			VALUES (?,?,?,?,?,?)`,
			id, a.Ticker, a.EventTicker, a.Magnitude, string(payload), at.UnixNano(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert alert: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit alerts: %w", err)
	}
	return ids, nil
}

// MarkNotified flags the given alerts as delivered.
func (s *Storage) MarkNotified(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE movement_alerts SET notified = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}
	if _, err := s.db.Exec(s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to mark alerts notified: %w", err)
	}
	return nil
}

// GetAlert loads one stored alert by ID.
func (s *Storage) GetAlert(id string) (*models.StoredAlert, error) {
	var r alertRow
	err := s.db.Get(&r, `SELECT id, payload, detected_at, notified FROM movement_alerts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	alerts, err := decodeAlerts([]alertRow{r})
	if err != nil {
		return nil, err
	}
	return &alerts[0], nil
}

// RecentAlerts returns alerts detected at or after since, newest first.
func (s *Storage) RecentAlerts(since time.Time) ([]models.StoredAlert, error) {
	var rows []alertRow
	err := s.db.Select(&rows, `
		SELECT id, payload, detected_at, notified FROM movement_alerts
		WHERE detected_at >= ? ORDER BY detected_at DESC, magnitude DESC`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	return decodeAlerts(rows)
}

// LastNotified returns, per ticker, the most recent notified alert at or
// after since. It lets a restarted monitor keep honoring notification
// cooldowns.
func (s *Storage) LastNotified(since time.Time) (map[string]models.StoredAlert, error) {
	var rows []alertRow
	err := s.db.Select(&rows, `
		SELECT id, payload, detected_at, notified FROM movement_alerts
		WHERE notified = 1 AND detected_at >= ? ORDER BY detected_at ASC`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query notified alerts: %w", err)
	}
	alerts, err := decodeAlerts(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.StoredAlert, len(alerts))
	for _, a := range alerts {
		out[a.Alert.Ticker] = a
	}
	return out, nil
}

func decodeAlerts(rows []alertRow) ([]models.StoredAlert, error) {
	out := make([]models.StoredAlert, 0, len(rows))
	for _, r := range rows {
		st := models.StoredAlert{ID: r.ID, DetectedAt: time.Unix(0, r.DetectedAtNs), Notified: r.Notified}
		if err := json.Unmarshal([]byte(r.Payload), &st.Alert); err != nil {
			return nil, fmt.Errorf("failed to decode alert %s: %w", r.ID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// Rotate deletes signals and alerts older than retention and reports how
// many rows were removed. A non-positive retention keeps everything.
func (s *Storage) Rotate(retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UnixNano()

	var removed int64
	for _, q := range []string{
		`DELETE FROM scan_signals WHERE scanned_at < ?`,
		`DELETE FROM movement_alerts WHERE detected_at < ?`,
	} {
		res, err := s.db.Exec(q, cutoff)
		if err != nil {
			table := strings.Fields(q)[2]
			return removed, fmt.Errorf("failed to rotate %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}
