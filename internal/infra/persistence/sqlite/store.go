// Package sqlite persists timelines to a SQLite database, one row per
// timeline and one row per slice, snapshotting the full in-memory state
// after every mutation.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"timechain/internal/entitymodel/sqlbundle"
	"timechain/internal/infra/persistence/memory"
	"timechain/pkg/domain"
)

// Store persists the in-memory state to SQLite, mirroring memory.Store's
// semantics for every operation.
type Store[E any] struct {
	*memory.Store[E]
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (creating if necessary) a SQLite-backed Store at path,
// applies the timeline/slice schema, and hydrates from any existing rows.
func NewStore[E any](path string, engine domain.DiffEngine, opts ...memory.Option[E]) (*Store[E], error) {
	if path == "" {
		path = "timechain.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("sqlite: create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	for _, stmt := range sqlbundle.SplitStatements(sqlbundle.SQLite()) {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("sqlite: apply ddl: %w", err)
		}
	}
	s := &Store[E]{Store: memory.NewStore[E](engine, opts...), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store[E]) Close() error { return s.db.Close() }

// CreateTimeline registers a new timeline and persists it.
func (s *Store[E]) CreateTimeline(id string, initial E, direction domain.Direction) error {
	if err := s.Store.CreateTimeline(id, initial, direction); err != nil {
		return err
	}
	return s.persist()
}

// Add appends a change and persists the resulting timeline.
func (s *Store[E]) Add(id string, changed E, moment time.Time, policy domain.FuturePolicy) error {
	if err := s.Store.Add(id, changed, moment, policy); err != nil {
		return err
	}
	return s.persist()
}

// Reverse reverses a timeline in place and persists the result.
func (s *Store[E]) Reverse(id string) (E, error) {
	boundary, err := s.Store.Reverse(id)
	if err != nil {
		return boundary, err
	}
	return boundary, s.persist()
}

func (s *Store[E]) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM slices`); err != nil {
		return fmt.Errorf("sqlite: clear slices: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM timelines`); err != nil {
		return fmt.Errorf("sqlite: clear timelines: %w", err)
	}

	for _, rec := range s.Store.Snapshot() {
		initialJSON, err := json.Marshal(rec.Initial)
		if err != nil {
			return fmt.Errorf("sqlite: marshal initial entity for %s: %w", rec.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO timelines (id, direction, initial_entity, updated_at) VALUES (?, ?, ?, ?)`,
			rec.ID, string(rec.Direction), initialJSON, rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("sqlite: insert timeline %s: %w", rec.ID, err)
		}
		for seq, slice := range rec.Slices {
			fromTS := boundaryToNull(slice.From, domain.NegativeInfinity)
			toTS := boundaryToNull(slice.To, domain.PositiveInfinity)
			if _, err := tx.Exec(
				`INSERT INTO slices (timeline_id, seq, from_ts, to_ts, patch, direction, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				rec.ID, seq, fromTS, toTS, []byte(slice.Patch), string(slice.Direction), slice.Timestamp.UTC().Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("sqlite: insert slice %s[%d]: %w", rec.ID, seq, err)
			}
		}
	}

	return tx.Commit()
}

func (s *Store[E]) load() error {
	rows, err := s.db.Query(`SELECT id, direction, initial_entity, updated_at FROM timelines`)
	if err != nil {
		return fmt.Errorf("sqlite: select timelines: %w", err)
	}
	type row struct {
		id, direction, updatedAt string
		initialJSON              []byte
	}
	var timelineRows []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.direction, &r.initialJSON, &r.updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("sqlite: scan timeline: %w", err)
		}
		timelineRows = append(timelineRows, r)
	}
	_ = rows.Close()
	if len(timelineRows) == 0 {
		return nil
	}

	records := make([]memory.Record[E], 0, len(timelineRows))
	for _, r := range timelineRows {
		var initial E
		if err := json.Unmarshal(r.initialJSON, &initial); err != nil {
			return fmt.Errorf("sqlite: unmarshal initial entity for %s: %w", r.id, err)
		}
		updatedAt, err := time.Parse(time.RFC3339Nano, r.updatedAt)
		if err != nil {
			return fmt.Errorf("sqlite: parse updated_at for %s: %w", r.id, err)
		}
		slices, err := s.loadSlices(r.id)
		if err != nil {
			return err
		}
		records = append(records, memory.Record[E]{
			ID:        r.id,
			Direction: domain.Direction(r.direction),
			Initial:   initial,
			Slices:    slices,
			UpdatedAt: updatedAt,
		})
	}
	return s.Store.Restore(records)
}

func (s *Store[E]) loadSlices(timelineID string) ([]domain.Slice, error) {
	rows, err := s.db.Query(
		`SELECT from_ts, to_ts, patch, direction, timestamp FROM slices WHERE timeline_id = ? ORDER BY seq ASC`,
		timelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select slices for %s: %w", timelineID, err)
	}
	defer func() { _ = rows.Close() }()

	var slices []domain.Slice
	for rows.Next() {
		var fromTS, toTS sql.NullString
		var patch []byte
		var direction, timestamp string
		if err := rows.Scan(&fromTS, &toTS, &patch, &direction, &timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan slice for %s: %w", timelineID, err)
		}
		from, err := boundaryFromNull(fromTS, domain.NegativeInfinity)
		if err != nil {
			return nil, err
		}
		to, err := boundaryFromNull(toTS, domain.PositiveInfinity)
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse slice timestamp for %s: %w", timelineID, err)
		}
		var p domain.Patch
		if len(patch) > 0 {
			p = domain.Patch(patch)
		}
		slices = append(slices, domain.Slice{
			From:      from,
			To:        to,
			Patch:     p,
			Direction: domain.Direction(direction),
			Timestamp: ts,
		})
	}
	return slices, nil
}

func boundaryToNull(t, infinity time.Time) sql.NullString {
	if t.Equal(infinity) {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func boundaryFromNull(ns sql.NullString, infinity time.Time) (time.Time, error) {
	if !ns.Valid {
		return infinity, nil
	}
	return time.Parse(time.RFC3339Nano, ns.String)
}
