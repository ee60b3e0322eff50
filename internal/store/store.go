package store

import (
	"context"
	"errors"
	"time"
)

// Record is one deployed definition version. Payload is the JSON encoded
// definition; the store does not interpret it.
type Record struct {
	DefinitionID string
	Version      int
	Source       string
	Payload      []byte
	UpdatedAt    time.Time
}

// ErrNotFound is returned by Get when no row matches.
var ErrNotFound = errors.New("store: record not found")

// Store persists deployed definitions so they survive a restart.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, definitionID string, version int) (Record, error)
	// Delete removes one version, or every version when version is 0.
	Delete(ctx context.Context, definitionID string, version int) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}
