package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ftahirops/qplane/bus"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	kind       TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	body       TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (kind, id)
);
`

// SQLite is the default file-backed Store.
type SQLite struct {
	db    *sql.DB
	clock bus.Clock
}

// OpenSQLite opens (creating if needed) the database at path and
// ensures the schema.
func OpenSQLite(ctx context.Context, path string, clock bus.Clock) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids
	// SQLITE_BUSY under concurrent ticks.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &SQLite{db: db, clock: clock}, nil
}

func (s *SQLite) Put(ctx context.Context, kind, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s: %w", kind, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (kind, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		kind, id, string(body), s.clock.Now())
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, kind, id string, v any) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE kind = ? AND id = ?`, kind, id).Scan(&body)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get %s/%s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("store: decode %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, kind string) ([]Doc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body, updated_at FROM documents WHERE kind = ? ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", kind, err)
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		var d Doc
		var body string
		if err := rows.Scan(&d.ID, &body, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", kind, err)
		}
		d.Kind = kind
		d.Body = []byte(body)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, kind, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
