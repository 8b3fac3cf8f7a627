package domain

import (
	"fmt"
	"time"
)

// Add records that, as of moment, the entity changed from initial's
// reconstructed trajectory to changed. It is only supported on Forward
// chains.
//
// Four regimes apply depending on the chain's current shape:
//
//   - the chain is empty: the first two slices are created (Case A).
//   - moment is after every existing key date: the last slice is
//     shrunk and a new open-ended slice appended (Case B).
//   - moment coincides with an existing key date: resolved per policy,
//     either rejected, replaced in place with its neighbor rediffed
//     (KeepFuture), or used as the cut point for an OverwriteFuture
//     truncation.
//   - moment falls strictly between two existing key dates (or before all
//     of them): resolved per policy, either rejected, split into the
//     enclosing slice with the following slice rediffed (KeepFuture), or
//     used as an OverwriteFuture truncation point.
func (c *Chain[E]) Add(initial, changed E, moment time.Time, policy FuturePolicy) error {
	if c.direction != Forward {
		return &UnsupportedOperationError{Operation: "Add", Direction: c.direction}
	}

	if len(c.slices) == 0 {
		return c.addToEmptyChain(initial, changed, moment)
	}

	matchIdx, matchOK := c.indexOfMatch(moment)
	afterIdx, hasAfter := -1, false
	for i, s := range c.slices {
		if matchOK && i == matchIdx {
			continue
		}
		if s.From.After(moment) {
			afterIdx, hasAfter = i, true
			break
		}
	}

	switch {
	case matchOK && policy != KeepFuture && policy != OverwriteFuture:
		return &DuplicateKeyDateError{Moment: moment}
	case matchOK && policy == KeepFuture:
		return c.replaceExisting(initial, changed, matchIdx)
	case matchOK && policy == OverwriteFuture:
		return c.overwriteFuture(initial, changed, c.slices[matchIdx].From)
	case !hasAfter:
		return c.appendAtEnd(initial, changed, moment)
	case policy == NoFuturePolicy:
		return &MissingFuturePolicyError{Moment: moment}
	case policy == OverwriteFuture:
		return c.overwriteFuture(initial, changed, moment)
	default: // KeepFuture
		return c.insertKeepingFuture(initial, changed, moment, afterIdx)
	}
}

// indexOfMatch finds a non−∞ slice starting within DefaultGrace of moment.
func (c *Chain[E]) indexOfMatch(moment time.Time) (int, bool) {
	for i, s := range c.slices {
		if s.IsNegativeInfinity() {
			continue
		}
		if closeEnough(s.From, moment, DefaultGrace) {
			return i, true
		}
	}
	return -1, false
}

// addToEmptyChain implements Case A.
func (c *Chain[E]) addToEmptyChain(initial, changed E, moment time.Time) error {
	initialJSON, err := c.codec.Serialize(initial)
	if err != nil {
		return fmt.Errorf("domain: serialize initial entity: %w", err)
	}
	changedJSON, err := c.codec.Serialize(changed)
	if err != nil {
		return fmt.Errorf("domain: serialize changed entity: %w", err)
	}
	patch, err := c.engine.Diff(initialJSON, changedJSON)
	if err != nil {
		return fmt.Errorf("domain: diff initial to changed: %w", err)
	}
	c.slices = []Slice{
		{From: NegativeInfinity, To: moment, Direction: Forward},
		{From: moment, To: PositiveInfinity, Patch: patch, Direction: Forward},
	}
	return nil
}

// appendAtEnd implements Case B: moment is after every existing key date
// and does not coincide with one.
func (c *Chain[E]) appendAtEnd(initial, changed E, moment time.Time) error {
	patch, err := c.diffFromReconstructed(initial, moment, changed)
	if err != nil {
		return err
	}
	last := len(c.slices) - 1
	c.slices[last] = c.slices[last].shrinkEndTo(moment)
	c.slices = append(c.slices, Slice{From: moment, To: PositiveInfinity, Patch: patch, Direction: Forward})
	return nil
}

// overwriteFuture implements Case C: every slice from moment onward is
// discarded and replaced by a single new open-ended slice.
func (c *Chain[E]) overwriteFuture(initial, changed E, moment time.Time) error {
	initialJSON, err := c.codec.Serialize(initial)
	if err != nil {
		return fmt.Errorf("domain: serialize initial entity: %w", err)
	}
	changedJSON, err := c.codec.Serialize(changed)
	if err != nil {
		return fmt.Errorf("domain: serialize changed entity: %w", err)
	}
	// A slice starting exactly at moment is discarded below, so the new
	// patch is diffed against the state just before moment.
	beforeDoc, _, err := c.reconstructBytesStrictlyBefore(initialJSON, moment)
	if err != nil {
		return err
	}
	patch, err := c.engine.Diff(beforeDoc, changedJSON)
	if err != nil {
		return fmt.Errorf("domain: diff predecessor state to changed entity: %w", err)
	}
	kept := make([]Slice, 0, len(c.slices))
	for _, s := range c.slices {
		if !s.From.Before(moment) {
			continue
		}
		kept = append(kept, s)
	}
	last := len(kept) - 1
	kept[last] = kept[last].shrinkEndTo(moment)
	c.slices = append(kept, Slice{From: moment, To: PositiveInfinity, Patch: patch, Direction: Forward})
	return nil
}

// replaceExisting implements Case D.1: moment coincides with an existing
// slice's start under KeepFuture. The matched slice's patch is replaced
// and, if a following slice exists, its patch is rediffed so its
// reconstructed value is unchanged.
func (c *Chain[E]) replaceExisting(initial, changed E, matchIdx int) error {
	moment := c.slices[matchIdx].From

	initialJSON, err := c.codec.Serialize(initial)
	if err != nil {
		return fmt.Errorf("domain: serialize initial entity: %w", err)
	}
	changedJSON, err := c.codec.Serialize(changed)
	if err != nil {
		return fmt.Errorf("domain: serialize changed entity: %w", err)
	}

	hasFollowing := matchIdx+1 < len(c.slices)
	var followingPrevJSON []byte
	var followingFrom time.Time
	if hasFollowing {
		followingFrom = c.slices[matchIdx+1].From
		rec, err := c.PatchToDate(initial, followingFrom)
		if err != nil {
			return err
		}
		followingPrevJSON, err = c.codec.Serialize(rec.Entity)
		if err != nil {
			return fmt.Errorf("domain: serialize following slice's prior state: %w", err)
		}
	}

	beforeDoc, _, err := c.reconstructBytesStrictlyBefore(initialJSON, moment)
	if err != nil {
		return err
	}
	newPatch, err := c.engine.Diff(beforeDoc, changedJSON)
	if err != nil {
		return fmt.Errorf("domain: diff predecessor state to changed entity: %w", err)
	}
	c.slices[matchIdx].Patch = newPatch

	if hasFollowing {
		followingPatch, err := c.engine.Diff(changedJSON, followingPrevJSON)
		if err != nil {
			return fmt.Errorf("domain: diff changed entity to following slice's prior state: %w", err)
		}
		c.slices[matchIdx+1].Patch = followingPatch
	}
	return nil
}

// insertKeepingFuture implements Case D.2: moment falls strictly inside an
// existing slice, under KeepFuture. afterIdx is the index of the first
// slice starting strictly after moment; the slice immediately preceding it
// is split at moment.
func (c *Chain[E]) insertKeepingFuture(initial, changed E, moment time.Time, afterIdx int) error {
	f := c.slices[afterIdx]
	precedingIdx := afterIdx - 1

	changedJSON, err := c.codec.Serialize(changed)
	if err != nil {
		return fmt.Errorf("domain: serialize changed entity: %w", err)
	}

	rec, err := c.PatchToDate(initial, f.From)
	if err != nil {
		return err
	}
	oldFollowingStateJSON, err := c.codec.Serialize(rec.Entity)
	if err != nil {
		return fmt.Errorf("domain: serialize following slice's prior state: %w", err)
	}

	insertedPatch, err := c.diffFromReconstructed(initial, moment, changed)
	if err != nil {
		return err
	}

	newFollowingPatch, err := c.engine.Diff(changedJSON, oldFollowingStateJSON)
	if err != nil {
		return fmt.Errorf("domain: diff changed entity to following slice's prior state: %w", err)
	}

	next := make([]Slice, 0, len(c.slices)+1)
	next = append(next, c.slices[:precedingIdx]...)
	next = append(next, c.slices[precedingIdx].shrinkEndTo(moment))
	next = append(next, Slice{From: moment, To: f.From, Patch: insertedPatch, Direction: Forward})
	rediffed := f
	rediffed.Patch = newFollowingPatch
	next = append(next, rediffed)
	next = append(next, c.slices[afterIdx+1:]...)

	c.slices = next
	return nil
}
