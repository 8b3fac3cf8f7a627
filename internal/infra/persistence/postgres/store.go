// Package postgres persists timelines to Postgres, mirroring sqlite's
// schema and snapshot-on-write semantics while using pgx as the
// database/sql driver.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"timechain/internal/entitymodel/sqlbundle"
	"timechain/internal/infra/persistence/memory"
	"timechain/pkg/domain"
)

const defaultDSN = "postgres://localhost/timechain?sslmode=disable"

// Store persists the in-memory state to Postgres, mirroring memory.Store's
// semantics for every operation.
type Store[E any] struct {
	*memory.Store[E]
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed Store using dsn (falling back to
// defaultDSN), applies the timeline/slice schema, and hydrates from any
// existing rows.
func NewStore[E any](dsn string, engine domain.DiffEngine, opts ...memory.Option[E]) (*Store[E], error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	for _, stmt := range sqlbundle.SplitStatements(sqlbundle.Postgres()) {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("postgres: apply ddl: %w", err)
		}
	}
	s := &Store[E]{Store: memory.NewStore[E](engine, opts...), db: db}
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
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM slices`); err != nil {
		return fmt.Errorf("postgres: clear slices: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM timelines`); err != nil {
		return fmt.Errorf("postgres: clear timelines: %w", err)
	}

	for _, rec := range s.Store.Snapshot() {
		initialJSON, err := json.Marshal(rec.Initial)
		if err != nil {
			return fmt.Errorf("postgres: marshal initial entity for %s: %w", rec.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO timelines (id, direction, initial_entity, updated_at) VALUES ($1, $2, $3, $4)`,
			rec.ID, string(rec.Direction), initialJSON, rec.UpdatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("postgres: insert timeline %s: %w", rec.ID, err)
		}
		for seq, slice := range rec.Slices {
			fromTS := boundaryToNull(slice.From, domain.NegativeInfinity)
			toTS := boundaryToNull(slice.To, domain.PositiveInfinity)
			var patch []byte
			if slice.Patch != nil {
				patch = []byte(slice.Patch)
			}
			if _, err := tx.Exec(
				`INSERT INTO slices (timeline_id, seq, from_ts, to_ts, patch, direction, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				rec.ID, seq, fromTS, toTS, patch, string(slice.Direction), slice.Timestamp.UTC(),
			); err != nil {
				return fmt.Errorf("postgres: insert slice %s[%d]: %w", rec.ID, seq, err)
			}
		}
	}

	return tx.Commit()
}

func (s *Store[E]) load() error {
	rows, err := s.db.Query(`SELECT id, direction, initial_entity, updated_at FROM timelines`)
	if err != nil {
		return fmt.Errorf("postgres: select timelines: %w", err)
	}
	type row struct {
		id, direction string
		initialJSON   []byte
		updatedAt     time.Time
	}
	var timelineRows []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.direction, &r.initialJSON, &r.updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("postgres: scan timeline: %w", err)
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
			return fmt.Errorf("postgres: unmarshal initial entity for %s: %w", r.id, err)
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
			UpdatedAt: r.updatedAt,
		})
	}
	return s.Store.Restore(records)
}

func (s *Store[E]) loadSlices(timelineID string) ([]domain.Slice, error) {
	rows, err := s.db.Query(
		`SELECT from_ts, to_ts, patch, direction, timestamp FROM slices WHERE timeline_id = $1 ORDER BY seq ASC`,
		timelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: select slices for %s: %w", timelineID, err)
	}
	defer func() { _ = rows.Close() }()

	var slices []domain.Slice
	for rows.Next() {
		var fromTS, toTS sql.NullTime
		var patch []byte
		var direction string
		var timestamp time.Time
		if err := rows.Scan(&fromTS, &toTS, &patch, &direction, &timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan slice for %s: %w", timelineID, err)
		}
		from := domain.NegativeInfinity
		if fromTS.Valid {
			from = fromTS.Time
		}
		to := domain.PositiveInfinity
		if toTS.Valid {
			to = toTS.Time
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
			Timestamp: timestamp,
		})
	}
	return slices, nil
}

func boundaryToNull(t, infinity time.Time) sql.NullTime {
	if t.Equal(infinity) {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
