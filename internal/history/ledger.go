// Package history records the outcome of every ingestion in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const DefaultListLimit = 50

// Entry is one ingestion outcome.
type Entry struct {
	ID              int64     `json:"id"`
	DocumentID      string    `json:"document_id"`
	Filename        string    `json:"filename"`
	Language        string    `json:"language"`
	ChunksProcessed int       `json:"chunks_processed"`
	Message         string    `json:"message"`
	Persisted       bool      `json:"persisted"`
	CreatedAt       time.Time `json:"created_at"`
}

type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file and schema when missing.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS ingestions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            document_id TEXT NOT NULL,
            filename TEXT NOT NULL,
            language TEXT NOT NULL,
            chunks_processed INTEGER NOT NULL,
            message TEXT NOT NULL,
            persisted INTEGER NOT NULL,
            created_at TEXT NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_ingestions_filename ON ingestions (filename);
    `)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO ingestions (document_id, filename, language, chunks_processed, message, persisted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.DocumentID, e.Filename, e.Language, e.ChunksProcessed, e.Message, e.Persisted,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record ingestion of %s: %w", e.Filename, err)
	}
	return nil
}

// List returns the most recent entries first.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, document_id, filename, language, chunks_processed, message, persisted, created_at
		 FROM ingestions
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ingestions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Filename, &e.Language,
			&e.ChunksProcessed, &e.Message, &e.Persisted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ingestion: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *Ledger) Close() error { return l.db.Close() }
