package metrics

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS spans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	started_at TEXT NOT NULL,
	duration_ms REAL NOT NULL,
	rss_bytes INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spans_name ON spans(name);
CREATE TABLE IF NOT EXISTS samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TEXT NOT NULL,
	cpu_percent REAL NOT NULL,
	mem_percent REAL NOT NULL,
	rss_bytes INTEGER NOT NULL
);
`

// maxRows bounds each table; older rows are pruned on insert.
const maxRows = 10000

// SQLiteSink stores spans and samples in a local database file.
type SQLiteSink struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens or creates the metrics database at path. Use ":memory:"
// in tests.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping metrics db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init metrics schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) WriteSpan(sp Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`INSERT INTO spans (name, started_at, duration_ms, rss_bytes) VALUES (?, ?, ?, ?)`,
		sp.Name, sp.Start.UTC().Format(time.RFC3339Nano), sp.DurationMS, int64(sp.RSSBytes),
	); err != nil {
		return fmt.Errorf("insert span: %w", err)
	}
	return s.prune("spans")
}

func (s *SQLiteSink) WriteSample(sm Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`INSERT INTO samples (at, cpu_percent, mem_percent, rss_bytes) VALUES (?, ?, ?, ?)`,
		sm.At.UTC().Format(time.RFC3339Nano), sm.CPUPercent, sm.MemPercent, int64(sm.RSSBytes),
	); err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return s.prune("samples")
}

func (s *SQLiteSink) prune(table string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id <= (SELECT MAX(id) FROM %s) - ?`, table, table)
	if _, err := s.db.Exec(q, maxRows); err != nil {
		return fmt.Errorf("prune %s: %w", table, err)
	}
	return nil
}

// Spans returns up to limit spans, newest first.
func (s *SQLiteSink) Spans(limit int) ([]Span, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT name, started_at, duration_ms, rss_bytes FROM spans ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Span
	for rows.Next() {
		var (
			sp      Span
			started string
			rss     int64
		)
		if err := rows.Scan(&sp.Name, &started, &sp.DurationMS, &rss); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		sp.Start, _ = time.Parse(time.RFC3339Nano, started)
		sp.RSSBytes = uint64(rss)
		out = append(out, sp)
	}
	return out, rows.Err()
}

// Samples returns up to limit samples, newest first.
func (s *SQLiteSink) Samples(limit int) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT at, cpu_percent, mem_percent, rss_bytes FROM samples ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Sample
	for rows.Next() {
		var (
			sm  Sample
			at  string
			rss int64
		)
		if err := rows.Scan(&at, &sm.CPUPercent, &sm.MemPercent, &rss); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sm.At, _ = time.Parse(time.RFC3339Nano, at)
		sm.RSSBytes = uint64(rss)
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
