package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/hookd/internal/store"
)

// DB implements store.Store for PostgreSQL using the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

// New opens a PostgreSQL connection pool for dsn.
func New(dsn string) (*DB, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty postgres dsn")
	}
	db, err := sql.Open("pgx", d)
	if err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_definitions(
			definition_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			payload BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (definition_id, version)
		);`)
	return err
}

func (p *DB) Save(ctx context.Context, rec store.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_definitions(definition_id, version, source, payload, updated_at)
		VALUES($1, $2, $3, $4, $5)
		ON CONFLICT (definition_id, version) DO UPDATE SET
			source = EXCLUDED.source,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at;`,
		rec.DefinitionID, rec.Version, rec.Source, rec.Payload, rec.UpdatedAt.UTC())
	return err
}

func (p *DB) Get(ctx context.Context, definitionID string, version int) (store.Record, error) {
	rec := store.Record{DefinitionID: definitionID, Version: version}
	err := p.db.QueryRowContext(ctx, `
		SELECT source, payload, updated_at FROM webhook_definitions
		WHERE definition_id = $1 AND version = $2;`, definitionID, version).
		Scan(&rec.Source, &rec.Payload, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, err
}

func (p *DB) Delete(ctx context.Context, definitionID string, version int) error {
	if version == 0 {
		_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_definitions WHERE definition_id = $1;`, definitionID)
		return err
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_definitions WHERE definition_id = $1 AND version = $2;`, definitionID, version)
	return err
}

func (p *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT definition_id, version, source, payload, updated_at
		FROM webhook_definitions ORDER BY definition_id, version;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.DefinitionID, &rec.Version, &rec.Source, &rec.Payload, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *DB) Close() error { return p.db.Close() }
