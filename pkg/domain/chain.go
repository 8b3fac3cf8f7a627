package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Chain is an ordered, gapless sequence of slices covering
// [NegativeInfinity, PositiveInfinity). Forward chains support Add;
// PatchToDate, Reverse and Contains work on either direction.
//
// A Chain is not safe for concurrent use; callers needing concurrent access
// should guard it externally (internal/infra/persistence/memory.Store does
// this for the persistence layer).
type Chain[E any] struct {
	direction    Direction
	slices       []Slice
	engine       DiffEngine
	codec        Codec[E]
	populator    Populator[E]
	skipPolicies []SkipPolicy
}

// Option configures a Chain at construction time.
type Option[E any] func(*Chain[E])

// WithDirection sets the chain's direction. Forward is the default.
func WithDirection[E any](d Direction) Option[E] {
	return func(c *Chain[E]) { c.direction = d }
}

// WithDiffEngine supplies the DiffEngine used to compute and apply
// patches. It is required; New returns an error without one.
func WithDiffEngine[E any](engine DiffEngine) Option[E] {
	return func(c *Chain[E]) { c.engine = engine }
}

// WithCodec overrides the ambient JSON Codec.
func WithCodec[E any](codec Codec[E]) Option[E] {
	return func(c *Chain[E]) { c.codec = codec }
}

// WithSkipPolicies appends skip policies, consulted in the order given
// whenever a patch fails to apply or unapply, or final deserialization
// fails.
func WithSkipPolicies[E any](policies ...SkipPolicy) Option[E] {
	return func(c *Chain[E]) { c.skipPolicies = append(c.skipPolicies, policies...) }
}

// WithSlices seeds the chain with an existing sequence of slices, as read
// back from persistence. The slices need not be pre-sorted.
func WithSlices[E any](slices []Slice) Option[E] {
	return func(c *Chain[E]) { c.slices = append([]Slice(nil), slices...) }
}

// New constructs a Chain, validating any slices supplied via WithSlices.
func New[E any](opts ...Option[E]) (*Chain[E], error) {
	c := &Chain[E]{direction: Forward}
	for _, opt := range opts {
		opt(c)
	}
	if c.engine == nil {
		return nil, errors.New("domain: DiffEngine not configured")
	}
	if c.codec == nil {
		c.codec = jsonCodec[E]{}
	}
	if p, ok := c.codec.(Populator[E]); ok {
		c.populator = p
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Direction reports the chain's direction.
func (c *Chain[E]) Direction() Direction { return c.direction }

// Slices returns a copy of the chain's current slices, in ascending From
// order.
func (c *Chain[E]) Slices() []Slice { return append([]Slice(nil), c.slices...) }

func boundaryKey(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (c *Chain[E]) validate() error {
	sorted := append([]Slice(nil), c.slices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From.Before(sorted[j].From) })

	froms := make(map[string]int, len(sorted))
	tos := make(map[string]int, len(sorted))
	for i, s := range sorted {
		if s.Direction != c.direction {
			return &InconsistentChainError{Index: i, Want: c.direction, Got: s.Direction}
		}
		froms[boundaryKey(s.From)]++
		tos[boundaryKey(s.To)]++
	}
	for _, s := range sorted {
		if froms[boundaryKey(s.From)] > 1 {
			return &AmbiguousBoundariesError{Instant: s.From, Kind: "from"}
		}
		if tos[boundaryKey(s.To)] > 1 {
			return &AmbiguousBoundariesError{Instant: s.To, Kind: "to"}
		}
	}
	if len(sorted) > 0 {
		if !sorted[0].From.Equal(NegativeInfinity) {
			return &AmbiguousBoundariesError{Instant: sorted[0].From, Kind: "gap"}
		}
		if !sorted[len(sorted)-1].To.Equal(PositiveInfinity) {
			return &AmbiguousBoundariesError{Instant: sorted[len(sorted)-1].To, Kind: "gap"}
		}
		for i := 1; i < len(sorted); i++ {
			if sorted[i-1].To.Equal(sorted[i].From) {
				continue
			}
			if sorted[i-1].overlaps(sorted[i]) {
				return &AmbiguousBoundariesError{Instant: sorted[i].From, Kind: "overlap"}
			}
			return &AmbiguousBoundariesError{Instant: sorted[i].From, Kind: "gap"}
		}
	}
	c.slices = sorted
	return nil
}

// reconstructionDiagnostics accumulates the skip-policy side effects of a
// walk across the chain's slices.
type reconstructionDiagnostics struct {
	skipped []Slice
}

// reconstructBytes replays (Forward) or unwinds (Backward) patches over
// initial, returning the resulting JSON document.
func (c *Chain[E]) reconstructBytes(initial []byte, moment time.Time) ([]byte, reconstructionDiagnostics, error) {
	return c.reconstructBytesFiltered(initial, func(s Slice) bool {
		if c.direction == Backward {
			return s.To.After(moment)
		}
		return (s.IsNegativeInfinity() && !moment.Equal(NegativeInfinity)) || !s.From.After(moment)
	})
}

// reconstructBytesStrictlyBefore is reconstructBytes restricted to slices
// starting strictly before moment. Used by Add to determine the state a
// replaced or split slice's predecessor leaves behind, since the general
// PatchToDate predicate is inclusive of slices starting exactly at moment.
func (c *Chain[E]) reconstructBytesStrictlyBefore(initial []byte, moment time.Time) ([]byte, reconstructionDiagnostics, error) {
	return c.reconstructBytesFiltered(initial, func(s Slice) bool {
		return (s.IsNegativeInfinity() && !moment.Equal(NegativeInfinity)) || s.From.Before(moment)
	})
}

// order visits slices chronologically (ascending From) for Forward, since
// Apply composes a slice's patch onto the state its predecessors already
// built up. Backward visits in the opposite order: Unapply peels each
// slice's patch off the state its chronological successor left behind, so
// the most recent qualifying slice must be undone first.
func (c *Chain[E]) order() []int {
	idx := make([]int, len(c.slices))
	for i := range idx {
		if c.direction == Backward {
			idx[i] = len(c.slices) - 1 - i
		} else {
			idx[i] = i
		}
	}
	return idx
}

func (c *Chain[E]) reconstructBytesFiltered(initial []byte, applies func(Slice) bool) ([]byte, reconstructionDiagnostics, error) {
	doc := initial
	var diag reconstructionDiagnostics
	for _, i := range c.order() {
		s := c.slices[i]
		if !applies(s) || s.Patch == nil {
			continue
		}
		var (
			next []byte
			err  error
		)
		if c.direction == Backward {
			next, err = c.engine.Unapply(doc, s.Patch)
		} else {
			next, err = c.engine.Apply(doc, s.Patch)
		}
		if err != nil {
			if c.consultSkip(doc, &s, err) {
				diag.skipped = append(diag.skipped, s)
				continue
			}
			verb := "apply"
			if c.direction == Backward {
				verb = "unapply"
			}
			return nil, diag, &PatchingFailure{
				Initial:      initial,
				Intermediate: doc,
				Patch:        s.Patch,
				SliceIndex:   i,
				Message:      verb + " failed",
				Cause:        err,
			}
		}
		doc = next
	}
	return doc, diag, nil
}

func (c *Chain[E]) consultSkip(docBeforeFailure []byte, slice *Slice, err error) bool {
	if len(c.skipPolicies) == 0 {
		return false
	}
	var boxed any
	if entity, decodeErr := c.codec.Deserialize(docBeforeFailure); decodeErr == nil {
		boxed = entity
	}
	for _, p := range c.skipPolicies {
		if p(boxed, slice, err) {
			return true
		}
	}
	return false
}

// PatchToDate reconstructs the entity at moment, starting from initial
// (the entity at the chain's near boundary: −∞ for Forward, +∞ for
// Backward).
func (c *Chain[E]) PatchToDate(initial E, moment time.Time) (Reconstruction[E], error) {
	return c.patchToDate(initial, moment, nil)
}

// PatchToDateInto behaves like PatchToDate but deserializes into target
// using the codec's Populator, when one is configured. It returns an error
// if the codec does not implement Populator.
func (c *Chain[E]) PatchToDateInto(initial E, moment time.Time, target *E) (Reconstruction[E], error) {
	if c.populator == nil {
		return Reconstruction[E]{}, errors.New("domain: codec does not support Populate")
	}
	return c.patchToDate(initial, moment, target)
}

func (c *Chain[E]) patchToDate(initial E, moment time.Time, target *E) (Reconstruction[E], error) {
	initialJSON, err := c.codec.Serialize(initial)
	if err != nil {
		return Reconstruction[E]{}, fmt.Errorf("domain: serialize initial entity: %w", err)
	}
	doc, diag, err := c.reconstructBytes(initialJSON, moment)
	if err != nil {
		return Reconstruction[E]{}, err
	}
	result := Reconstruction[E]{
		SkippedSlices:          diag.skipped,
		PatchesHaveBeenSkipped: len(diag.skipped) > 0,
	}
	if target != nil {
		if err := c.populator.Populate(doc, target); err != nil {
			if c.consultSkip(doc, nil, err) {
				result.FinalDeserializationFailed = true
				result.Entity = initial
				return result, nil
			}
			return Reconstruction[E]{}, fmt.Errorf("domain: populate target: %w", err)
		}
		result.Entity = *target
		return result, nil
	}
	entity, err := c.codec.Deserialize(doc)
	if err != nil {
		if c.consultSkip(doc, nil, err) {
			result.FinalDeserializationFailed = true
			result.Entity = initial
			return result, nil
		}
		return Reconstruction[E]{}, fmt.Errorf("domain: deserialize result: %w", err)
	}
	result.Entity = entity
	return result, nil
}

// diffFromReconstructed computes diff(serialize(PatchToDate(initial,
// at)), serialize(changed)) against the chain's current, unmodified state.
func (c *Chain[E]) diffFromReconstructed(initial E, at time.Time, changed E) (Patch, error) {
	rec, err := c.PatchToDate(initial, at)
	if err != nil {
		return nil, err
	}
	beforeJSON, err := c.codec.Serialize(rec.Entity)
	if err != nil {
		return nil, fmt.Errorf("domain: serialize reconstructed state: %w", err)
	}
	changedJSON, err := c.codec.Serialize(changed)
	if err != nil {
		return nil, fmt.Errorf("domain: serialize changed entity: %w", err)
	}
	return c.engine.Diff(beforeJSON, changedJSON)
}

// Contains reports whether the chain has a slice starting within grace of
// t.
func (c *Chain[E]) Contains(t time.Time, grace time.Duration) bool {
	for _, s := range c.slices {
		if closeEnough(s.From, t, grace) {
			return true
		}
	}
	return false
}

// Reverse produces the boundary entity at the chain's opposite temporal
// edge, plus a new chain of the opposite direction that reconstructs to
// the same values at every instant. boundaryEntity is the entity at this
// chain's own near boundary (−∞ for Forward, +∞ for Backward). Reverse
// does not mutate the receiver.
func (c *Chain[E]) Reverse(boundaryEntity E) (E, *Chain[E], error) {
	var zero E
	newDirection := Backward
	if c.direction == Backward {
		newDirection = Forward
	}

	// A Forward chain's slice i carries diff(value(i-1), value(i)); slice 0
	// carries nil since there is no predecessor. Reversing shifts that
	// relationship by one position: the new chain's slice i must carry
	// whatever transforms value(i+1) into value(i) under Unapply, which is
	// exactly the original chain's slice i+1 patch. The new boundary slice
	// (the one adjoining the now-anchored edge) carries nil in turn.
	// Backward→Forward is the same shift run the other way.
	reversedSlices := make([]Slice, len(c.slices))
	for i, s := range c.slices {
		reversedSlices[i] = Slice{From: s.From, To: s.To, Direction: newDirection}
	}
	if newDirection == Backward {
		for i := 0; i < len(reversedSlices)-1; i++ {
			reversedSlices[i].Patch = c.slices[i+1].Patch
		}
	} else {
		for i := 1; i < len(reversedSlices); i++ {
			reversedSlices[i].Patch = c.slices[i-1].Patch
		}
	}

	oppositeMoment := PositiveInfinity
	if c.direction == Backward {
		oppositeMoment = NegativeInfinity
	}
	oppositeRec, err := c.PatchToDate(boundaryEntity, oppositeMoment)
	if err != nil {
		return zero, nil, err
	}

	reversed := &Chain[E]{
		direction:    newDirection,
		slices:       reversedSlices,
		engine:       c.engine,
		codec:        c.codec,
		populator:    c.populator,
		skipPolicies: append([]SkipPolicy(nil), c.skipPolicies...),
	}
	return oppositeRec.Entity, reversed, nil
}
