// Package product joins several chains into a single read-only view: at
// any instant, each chain's currently-reconstructed entity is collected
// side by side. It adds no new temporal algorithm; it only repeats
// PatchToDate once per chain and sorts the dates worth sampling.
package product

import (
	"fmt"
	"sort"
	"time"

	"timechain/pkg/domain"
)

// Member names one chain participating in a product view.
type Member[E any] struct {
	Name    string
	Chain   *domain.Chain[E]
	Initial E
}

// Row is the reconstructed state of every member at Moment.
type Row[E any] struct {
	Moment time.Time
	Values map[string]domain.Reconstruction[E]
}

// KeyDates returns the union of every member chain's slice start instants,
// in ascending order, deduplicated.
func KeyDates[E any](members []Member[E]) []time.Time {
	seen := make(map[int64]time.Time)
	for _, m := range members {
		for _, s := range m.Chain.Slices() {
			if s.IsNegativeInfinity() {
				continue
			}
			seen[s.From.UnixNano()] = s.From
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		dates = append(dates, t)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// At reconstructs every member at moment.
func At[E any](members []Member[E], moment time.Time) (Row[E], error) {
	values := make(map[string]domain.Reconstruction[E], len(members))
	for _, m := range members {
		rec, err := m.Chain.PatchToDate(m.Initial, moment)
		if err != nil {
			return Row[E]{}, fmt.Errorf("product: reconstruct %q at %s: %w", m.Name, moment, err)
		}
		values[m.Name] = rec
	}
	return Row[E]{Moment: moment, Values: values}, nil
}

// Timeline reconstructs every member at every key date across all
// members, producing one Row per date.
func Timeline[E any](members []Member[E]) ([]Row[E], error) {
	rows := make([]Row[E], 0, len(members))
	for _, moment := range KeyDates(members) {
		row, err := At(members, moment)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
