package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ftahirops/qplane/bus"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	kind       TEXT   NOT NULL,
	id         TEXT   NOT NULL,
	body       JSONB  NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (kind, id)
)`

// Postgres is the shared-database Store for multi-instance planes.
type Postgres struct {
	pool  *pgxpool.Pool
	clock bus.Clock
}

// OpenPostgres connects, pings, and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string, clock bus.Clock) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres driver needs a dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &Postgres{pool: pool, clock: clock}, nil
}

func (s *Postgres) Put(ctx context.Context, kind, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s: %w", kind, id, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (kind, id, body, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		kind, id, body, s.clock.Now())
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, kind, id string, v any) error {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE kind = $1 AND id = $2`, kind, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get %s/%s: %w", kind, id, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("store: decode %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, kind string) ([]Doc, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, body, updated_at FROM documents WHERE kind = $1 ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", kind, err)
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		var d Doc
		if err := rows.Scan(&d.ID, &d.Body, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", kind, err)
		}
		d.Kind = kind
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Postgres) Delete(ctx context.Context, kind, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
