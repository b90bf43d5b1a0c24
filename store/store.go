// Package store wraps the sqlite-backed row stores shared by persistence
// (raw ticks) and the indexer (prepared ticks). Per the re-architecture
// note in spec §9 ("single-writer/multi-reader stores... encoded at the
// type of each connection"), a Writer and a Reader are distinct Go types so
// a reader can never accidentally open a write transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Tuning holds the performance-only knobs from spec §6: they never change
// write/read semantics, only throughput.
type Tuning struct {
	CacheSize          int64 // pages; negative per sqlite convention means KB
	MmapSize           int64 // bytes
	PageSize           int64 // bytes
	MemoryOptimization bool
}

// DefaultTuning matches the defaults implied by spec §6's configuration
// table.
func DefaultTuning() Tuning {
	return Tuning{CacheSize: -2000, MmapSize: 64 << 20, PageSize: 4096}
}

func open(dsn string, t Tuning, readOnly bool) (*sql.DB, error) {
	if readOnly {
		dsn += "?mode=ro&_journal_mode=WAL"
	} else {
		dsn += "?_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = %d;", t.CacheSize),
		fmt.Sprintf("PRAGMA mmap_size = %d;", t.MmapSize),
	}
	if !readOnly {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA page_size = %d;", t.PageSize))
	}
	if t.MemoryOptimization {
		pragmas = append(pragmas, "PRAGMA temp_store = MEMORY;")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: applying %q: %w", p, err)
		}
	}
	return db, nil
}

// Row is one persisted (tick_number, tick_data) pair, the logical schema
// shared by raw_ticks and prepared_ticks (spec §6).
type Row struct {
	TickNumber int64
	Data       string
}

// Writer is a write-capable handle onto one table of one sqlite database.
// Only persistence and the indexer hold Writers; nothing else does (spec
// §5 "Each store... is written by exactly one writer service").
type Writer struct {
	db    *sql.DB
	table string
}

// OpenWriter opens (creating if absent) a write-capable handle to table in
// the sqlite database at path.
func OpenWriter(path, table string, t Tuning) (*Writer, error) {
	db, err := open(path, t, false)
	if err != nil {
		return nil, err
	}
	schema := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (tick_number INTEGER PRIMARY KEY, tick_data TEXT NOT NULL);",
		table,
	)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating table %s: %w", table, err)
	}
	return &Writer{db: db, table: table}, nil
}

// WriteBatch commits rows inside a single atomic transaction: either all
// rows become visible or none do (spec §4.3 batching discipline). Writing
// the same tick_number twice replaces the row (idempotence via the primary
// key), matching spec §4.3's "replacement is a safety net, not a primary
// path".
func (w *Writer) WriteBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (tick_number, tick_data) VALUES (?, ?);", w.table,
	))
	if err != nil {
		return fmt.Errorf("store: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.TickNumber, r.Data); err != nil {
			return fmt.Errorf("store: inserting tick %d: %w", r.TickNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing batch: %w", err)
	}
	return nil
}

// MaxTickNumber returns the highest committed tick_number, or -1 if the
// table is empty.
func (w *Writer) MaxTickNumber(ctx context.Context) (int64, error) {
	row := w.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(tick_number), -1) FROM %s;", w.table))
	var max int64
	if err := row.Scan(&max); err != nil {
		return -1, fmt.Errorf("store: querying max tick: %w", err)
	}
	return max, nil
}

// Count returns the number of rows in the table.
func (w *Writer) Count(ctx context.Context) (int64, error) {
	row := w.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s;", w.table))
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting rows: %w", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (w *Writer) Close() error { return w.db.Close() }

// Reader is a read-only handle onto one table of one sqlite database. The
// external Debug Server and the Indexer (reading raw) hold Readers, never
// Writers (spec §5).
type Reader struct {
	db    *sql.DB
	table string
}

// OpenReader opens a read-only handle to table in the sqlite database at
// path.
func OpenReader(path, table string, t Tuning) (*Reader, error) {
	db, err := open(path, t, true)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db, table: table}, nil
}

// ReadFrom returns up to limit rows with tick_number > after, in ascending
// order (spec §4.4 "pulls raw rows in ascending tick_number order in
// batches of batchSize").
func (r *Reader) ReadFrom(ctx context.Context, after int64, limit int) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT tick_number, tick_data FROM %s WHERE tick_number > ? ORDER BY tick_number ASC LIMIT ?;", r.table,
	), after, limit)
	if err != nil {
		return nil, fmt.Errorf("store: reading from %d: %w", after, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.TickNumber, &row.Data); err != nil {
			return nil, fmt.Errorf("store: scanning row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (r *Reader) Close() error { return r.db.Close() }
