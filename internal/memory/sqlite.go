package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	task       TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '[]',
	keywords   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
`

// SQLiteStore is the default on-disk memory. Runs of one process share it;
// writes are serialised by SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens or creates the database at dbPath. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if err := execWithRetry(db, p, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	if err := execWithRetry(db, sqliteSchema, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// execWithRetry retries statements that hit "database is locked" with
// exponential backoff.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

func (s *SQLiteStore) Add(ctx context.Context, rec Record) error {
	rec = prepare(rec)
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories (id, kind, task, content, tags, keywords, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.Task, rec.Content, string(tags), packKeywords(rec.Keywords), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// packKeywords stores keywords space-delimited with sentinels so LIKE
// '% kw %' matches whole words only.
func packKeywords(kws []string) string {
	return " " + strings.Join(kws, " ") + " "
}

func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	kws := Keywords(query)
	if len(kws) == 0 {
		return nil, nil
	}
	clauses := make([]string, len(kws))
	args := make([]any, len(kws))
	for i, k := range kws {
		clauses[i] = "keywords LIKE ?"
		args[i] = "% " + k + " %"
	}
	q := `SELECT id, kind, task, content, tags, keywords, created_at FROM memories WHERE ` +
		strings.Join(clauses, " OR ") + ` ORDER BY created_at DESC LIMIT 500`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			r          Record
			kind, tags string
			keywords   string
		)
		if err := rows.Scan(&r.ID, &kind, &r.Task, &r.Content, &tags, &keywords, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		r.Kind = Kind(kind)
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", r.ID, err)
		}
		r.Keywords = strings.Fields(keywords)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return rank(kws, recs, limit), nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
