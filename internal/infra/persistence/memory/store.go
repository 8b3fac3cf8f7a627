// Package memory provides the in-memory timeline store that sqlite and
// postgres persistence layers embed and snapshot to disk.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"timechain/pkg/domain"
)

// ErrNotFound is returned when a timeline id is unknown to the store.
var ErrNotFound = fmt.Errorf("memory: timeline not found")

// ErrAlreadyExists is returned by CreateTimeline when id is already in use.
var ErrAlreadyExists = fmt.Errorf("memory: timeline already exists")

// Record is a timeline's persisted shape: initial entity, direction and
// ordered slices. Persistence layers read and write Records; they never
// see a *domain.Chain directly.
type Record[E any] struct {
	ID        string
	Direction domain.Direction
	Initial   E
	Slices    []domain.Slice
	UpdatedAt time.Time
}

type timeline[E any] struct {
	chain   *domain.Chain[E]
	initial E
}

// Store holds every timeline in memory, keyed by id, guarded by a single
// RWMutex. It is safe for concurrent use.
type Store[E any] struct {
	mu      sync.RWMutex
	engine  domain.DiffEngine
	codec   domain.Codec[E]
	skip    []domain.SkipPolicy
	entries map[string]*timeline[E]
}

// Option configures a Store.
type Option[E any] func(*Store[E])

// WithCodec overrides the store's ambient JSON Codec.
func WithCodec[E any](codec domain.Codec[E]) Option[E] {
	return func(s *Store[E]) { s.codec = codec }
}

// WithSkipPolicies installs skip policies on every chain the store creates
// or hydrates.
func WithSkipPolicies[E any](policies ...domain.SkipPolicy) Option[E] {
	return func(s *Store[E]) { s.skip = append(s.skip, policies...) }
}

// NewStore constructs an empty Store using engine to diff and patch every
// timeline it manages.
func NewStore[E any](engine domain.DiffEngine, opts ...Option[E]) *Store[E] {
	s := &Store[E]{engine: engine, entries: make(map[string]*timeline[E])}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store[E]) newChain(slices []domain.Slice, direction domain.Direction) (*domain.Chain[E], error) {
	opts := []domain.Option[E]{
		domain.WithDiffEngine[E](s.engine),
		domain.WithDirection[E](direction),
		domain.WithSlices[E](slices),
	}
	if s.codec != nil {
		opts = append(opts, domain.WithCodec[E](s.codec))
	}
	if len(s.skip) > 0 {
		opts = append(opts, domain.WithSkipPolicies[E](s.skip...))
	}
	return domain.New[E](opts...)
}

// CreateTimeline registers a new, empty timeline with the given direction.
// Only Forward timelines accept Add.
func (s *Store[E]) CreateTimeline(id string, initial E, direction domain.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	chain, err := s.newChain(nil, direction)
	if err != nil {
		return err
	}
	s.entries[id] = &timeline[E]{chain: chain, initial: initial}
	return nil
}

// Add appends a change to id's timeline. See domain.Chain.Add.
func (s *Store[E]) Add(id string, changed E, moment time.Time, policy domain.FuturePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.chain.Add(t.initial, changed, moment, policy)
}

// PatchToDate reconstructs id's entity at moment.
func (s *Store[E]) PatchToDate(id string, moment time.Time) (domain.Reconstruction[E], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.entries[id]
	if !ok {
		return domain.Reconstruction[E]{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.chain.PatchToDate(t.initial, moment)
}

// Contains reports whether id's timeline records a key date within grace
// of moment.
func (s *Store[E]) Contains(id string, moment time.Time, grace time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.chain.Contains(moment, grace), nil
}

// Reverse replaces id's timeline in place with its reverse, returning the
// new boundary entity. Unlike domain.Chain.Reverse, this mutates the
// store: callers that need both directions available should read a
// Snapshot first.
func (s *Store[E]) Reverse(id string) (E, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero E
	t, ok := s.entries[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	boundary, reversed, err := t.chain.Reverse(t.initial)
	if err != nil {
		return zero, err
	}
	s.entries[id] = &timeline[E]{chain: reversed, initial: boundary}
	return boundary, nil
}

// Timelines returns every registered timeline id, sorted.
func (s *Store[E]) Timelines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a Record for every timeline, for persistence layers to
// write out.
func (s *Store[E]) Snapshot() []Record[E] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]Record[E], 0, len(s.entries))
	for id, t := range s.entries {
		records = append(records, Record[E]{
			ID:        id,
			Direction: t.chain.Direction(),
			Initial:   t.initial,
			Slices:    t.chain.Slices(),
			UpdatedAt: now(),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

// Restore replaces the store's contents with records, reconstructing a
// domain.Chain for each one. It is the inverse of Snapshot.
func (s *Store[E]) Restore(records []Record[E]) error {
	entries := make(map[string]*timeline[E], len(records))
	for _, r := range records {
		chain, err := s.newChain(r.Slices, r.Direction)
		if err != nil {
			return fmt.Errorf("memory: restore %s: %w", r.ID, err)
		}
		entries[r.ID] = &timeline[E]{chain: chain, initial: r.Initial}
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

// now is a seam so persistence tests can avoid depending on wall-clock
// time; production code always uses time.Now.
var now = time.Now
