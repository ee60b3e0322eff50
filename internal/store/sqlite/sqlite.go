package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/hookd/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS webhook_definitions(
			definition_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (definition_id, version)
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Save(ctx context.Context, rec store.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_definitions(definition_id, version, source, payload, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(definition_id, version) DO UPDATE SET
			source = excluded.source,
			payload = excluded.payload,
			updated_at = excluded.updated_at;`,
		rec.DefinitionID, rec.Version, rec.Source, rec.Payload, rec.UpdatedAt.UTC())
	return err
}

func (s *DB) Get(ctx context.Context, definitionID string, version int) (store.Record, error) {
	rec := store.Record{DefinitionID: definitionID, Version: version}
	err := s.db.QueryRowContext(ctx, `
		SELECT source, payload, updated_at FROM webhook_definitions
		WHERE definition_id = ? AND version = ?;`, definitionID, version).
		Scan(&rec.Source, &rec.Payload, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, err
}

func (s *DB) Delete(ctx context.Context, definitionID string, version int) error {
	if version == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_definitions WHERE definition_id = ?;`, definitionID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_definitions WHERE definition_id = ? AND version = ?;`, definitionID, version)
	return err
}

func (s *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *DB) Close() error { return s.db.Close() }
