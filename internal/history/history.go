// Package history stores training progress in a SQLite database so runs can
// be compared after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"epochforge/internal/model"
	"epochforge/internal/trainer"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS models (
	run_id      TEXT NOT NULL,
	model_index INTEGER NOT NULL,
	model_name  TEXT NOT NULL,
	network     TEXT NOT NULL,
	num_classes INTEGER NOT NULL,
	optimizer   TEXT NOT NULL,
	PRIMARY KEY (run_id, model_index)
);
CREATE TABLE IF NOT EXISTS epochs (
	run_id         TEXT NOT NULL,
	model_index    INTEGER NOT NULL,
	epoch          INTEGER NOT NULL,
	loss           REAL,
	images_per_sec REAL NOT NULL,
	PRIMARY KEY (run_id, model_index, epoch)
);
CREATE TABLE IF NOT EXISTS epoch_metrics (
	run_id      TEXT NOT NULL,
	model_index INTEGER NOT NULL,
	epoch       INTEGER NOT NULL,
	name        TEXT NOT NULL,
	value       REAL
);
CREATE TABLE IF NOT EXISTS totals (
	run_id TEXT NOT NULL,
	name   TEXT NOT NULL,
	value  REAL
);`

// Recorder writes one training run to the database. It implements trainer.Reporter.
type Recorder struct {
	db    *sql.DB
	runID string
}

var _ trainer.Reporter = (*Recorder)(nil)

// Open creates the schema at path if needed and registers a new run.
func Open(ctx context.Context, path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	r := &Recorder{db: db, runID: uuid.NewString()}
	_, err = db.ExecContext(ctx, `INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		r.runID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}
	return r, nil
}

// RunID identifies the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// Close releases the database.
func (r *Recorder) Close() error { return r.db.Close() }

func (r *Recorder) ModelStarted(index int, cfg model.Config) error {
	_, err := r.db.Exec(`INSERT INTO models (run_id, model_index, model_name, network, num_classes, optimizer)
		VALUES (?, ?, ?, ?, ?, ?)`, r.runID, index, cfg.ModelName, cfg.Network, cfg.NumClasses, cfg.Optimizer)
	if err != nil {
		return fmt.Errorf("record model %d: %w", index, err)
	}
	return nil
}

func (r *Recorder) EpochFinished(rep trainer.EpochReport) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("record epoch: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO epochs (run_id, model_index, epoch, loss, images_per_sec) VALUES (?, ?, ?, ?, ?)`,
		r.runID, rep.Model, rep.Epoch+1, nullable(rep.Loss), rep.Throughput.ImagesPerSec)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("record epoch %d: %w", rep.Epoch+1, err)
	}
	for _, m := range rep.Metrics {
		_, err = tx.Exec(`INSERT INTO epoch_metrics (run_id, model_index, epoch, name, value) VALUES (?, ?, ?, ?, ?)`,
			r.runID, rep.Model, rep.Epoch+1, m.Name, nullable(m.Value))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record metric %s: %w", m.Name, err)
		}
	}
	return tx.Commit()
}

func (r *Recorder) Finished(totals []trainer.MetricValue) error {
	for _, m := range totals {
		if _, err := r.db.Exec(`INSERT INTO totals (run_id, name, value) VALUES (?, ?, ?)`, r.runID, m.Name, nullable(m.Value)); err != nil {
			return fmt.Errorf("record total %s: %w", m.Name, err)
		}
	}
	return nil
}

// EpochRow is one stored epoch. Loss is NaN for a diverged epoch.
type EpochRow struct {
	Model int
	Epoch int
	Loss  float64
}

// Epochs lists the stored epochs of a run in training order.
func (r *Recorder) Epochs(ctx context.Context, runID string) ([]EpochRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT model_index, epoch, loss FROM epochs
		WHERE run_id = ? ORDER BY model_index, epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var out []EpochRow
	for rows.Next() {
		var row EpochRow
		var loss sql.NullFloat64
		if err := rows.Scan(&row.Model, &row.Epoch, &loss); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		row.Loss = fromNullable(loss)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Totals returns the final metrics of a run keyed by name.
func (r *Recorder) Totals(ctx context.Context, runID string) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, value FROM totals WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var value sql.NullFloat64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		out[name] = fromNullable(value)
	}
	return out, rows.Err()
}

// nullable stores NaN as NULL; SQLite has no NaN.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
