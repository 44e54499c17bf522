package train

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/djeday123/gotune/eval"
)

// Exporter persists qualitative (target, output) pairs from evaluation
// cycles into a SQLite database in the run directory, so generations can
// be reviewed after the run.
type Exporter struct {
	db *sql.DB
}

const exportSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	iter   INTEGER NOT NULL,
	target TEXT NOT NULL,
	output TEXT NOT NULL
);`

// OpenExporter opens (or creates) samples.db under dir.
func OpenExporter(dir string) (*Exporter, error) {
	path := filepath.Join(dir, "samples.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("export: open %s: %w", path, err)
	}
	if _, err := db.Exec(exportSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("export: init schema: %w", err)
	}
	return &Exporter{db: db}, nil
}

// Add records one evaluation sample.
func (e *Exporter) Add(iter int, s eval.Sample) error {
	_, err := e.db.Exec("INSERT INTO samples(iter, target, output) VALUES(?, ?, ?)",
		iter, s.Target, s.Output)
	if err != nil {
		return fmt.Errorf("export: insert sample at iter %d: %w", iter, err)
	}
	return nil
}

// Samples returns all recorded pairs in insertion order.
func (e *Exporter) Samples() ([]ExportedSample, error) {
	rows, err := e.db.Query("SELECT iter, target, output FROM samples ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("export: query samples: %w", err)
	}
	defer rows.Close()

	var out []ExportedSample
	for rows.Next() {
		var s ExportedSample
		if err := rows.Scan(&s.Iter, &s.Target, &s.Output); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ExportedSample is one persisted evaluation pair.
type ExportedSample struct {
	Iter   int
	Target string
	Output string
}

func (e *Exporter) Close() error { return e.db.Close() }
