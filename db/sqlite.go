// Package db keeps the prediction history in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultHistoryLimit is used when RecentPredictions gets a non-positive limit.
const DefaultHistoryLimit = 50

const maxHistoryLimit = 500

var ErrClosed = errors.New("history store closed")

// PredictionRecord is one row of the predictions table.
type PredictionRecord struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Nitrogen    float64   `json:"nitrogen"`
	Phosphorus  float64   `json:"phosphorus"`
	Potassium   float64   `json:"potassium"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	PH          float64   `json:"ph"`
	Rainfall    float64   `json:"rainfall"`
	Crop        string    `json:"crop"`
	ClassID     int       `json:"class_id"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the SQLite-backed prediction history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path. The special path
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create history dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		database.SetMaxOpenConns(1)
	} else {
		database.SetMaxOpenConns(4)
		database.SetMaxIdleConns(2)
		database.SetConnMaxLifetime(time.Hour)
	}

	s := &Store{db: database}
	if err := s.init(); err != nil {
		database.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
    CREATE TABLE IF NOT EXISTS predictions (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        source TEXT NOT NULL DEFAULT 'web',
        nitrogen REAL NOT NULL,
        phosphorus REAL NOT NULL,
        potassium REAL NOT NULL,
        temperature REAL NOT NULL,
        humidity REAL NOT NULL,
        ph REAL NOT NULL,
        rainfall REAL NOT NULL,
        crop TEXT NOT NULL,
        class_id INTEGER NOT NULL,
        confidence REAL NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
    CREATE INDEX IF NOT EXISTS idx_predictions_crop ON predictions(crop);
    `)
	return err
}

// SavePrediction appends a record. Records with an empty id or crop are rejected.
func (s *Store) SavePrediction(ctx context.Context, rec PredictionRecord) error {
	if s.db == nil {
		return ErrClosed
	}
	if rec.ID == "" {
		return errors.New("prediction id required")
	}
	if strings.TrimSpace(rec.Crop) == "" {
		return errors.New("crop required")
	}
	if rec.Source == "" {
		rec.Source = "web"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (
            id, source, nitrogen, phosphorus, potassium, temperature, humidity,
            ph, rainfall, crop, class_id, confidence, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Source,
		rec.Nitrogen, rec.Phosphorus, rec.Potassium,
		rec.Temperature, rec.Humidity, rec.PH, rec.Rainfall,
		rec.Crop, rec.ClassID, rec.Confidence, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert prediction %s: %w", rec.ID, err)
	}
	return nil
}

// RecentPredictions returns up to limit records, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, source, nitrogen, phosphorus, potassium, temperature, humidity,
               ph, rainfall, crop, class_id, confidence, created_at
        FROM predictions
        ORDER BY seq DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0, limit)
	for rows.Next() {
		var r PredictionRecord
		if err := rows.Scan(&r.ID, &r.Source,
			&r.Nitrogen, &r.Phosphorus, &r.Potassium,
			&r.Temperature, &r.Humidity, &r.PH, &r.Rainfall,
			&r.Crop, &r.ClassID, &r.Confidence, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountByCrop returns how often each crop has been recommended.
func (s *Store) CountByCrop(ctx context.Context) (map[string]int, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT crop, COUNT(*) FROM predictions GROUP BY crop`)
	if err != nil {
		return nil, fmt.Errorf("count predictions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var crop string
		var n int
		if err := rows.Scan(&crop, &n); err != nil {
			return nil, err
		}
		counts[crop] = n
	}
	return counts, rows.Err()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
