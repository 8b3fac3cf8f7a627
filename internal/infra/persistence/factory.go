// Package persistence selects a timeline storage backend by name, the way
// internal/blob selects a blob storage backend. Callers outside this
// package and the backend packages it wraps should depend on the Store
// interface rather than importing memory, sqlite or postgres directly.
package persistence

import (
	"fmt"
	"time"

	"timechain/internal/infra/persistence/memory"
	"timechain/internal/infra/persistence/postgres"
	"timechain/internal/infra/persistence/sqlite"
	"timechain/pkg/domain"
)

// Driver identifies a concrete persistence backend implementation.
type Driver string

const (
	// DriverMemory keeps every timeline in process memory only.
	DriverMemory Driver = "memory"
	// DriverSQLite persists to a local SQLite file.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres persists to a Postgres database.
	DriverPostgres Driver = "postgres"
)

// Store is the storage surface every backend exposes: create, mutate and
// reconstruct timelines.
type Store[E any] interface {
	CreateTimeline(id string, initial E, direction domain.Direction) error
	Add(id string, changed E, moment time.Time, policy domain.FuturePolicy) error
	PatchToDate(id string, moment time.Time) (domain.Reconstruction[E], error)
	Contains(id string, moment time.Time, grace time.Duration) (bool, error)
	Reverse(id string) (E, error)
	Timelines() []string
}

// Closer is implemented by backends that hold an open resource (sqlite,
// postgres); memory's Store does not need closing.
type Closer interface {
	Close() error
}

// Config selects a driver and its connection details.
type Config struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
}

// Open constructs a Store for the configured driver.
func Open[E any](cfg Config, engine domain.DiffEngine, opts ...memory.Option[E]) (Store[E], error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return memory.NewStore[E](engine, opts...), nil
	case DriverSQLite:
		return sqlite.NewStore[E](cfg.SQLitePath, engine, opts...)
	case DriverPostgres:
		return postgres.NewStore[E](cfg.PostgresDSN, engine, opts...)
	default:
		return nil, fmt.Errorf("persistence: unknown driver %q", cfg.Driver)
	}
}
