package skippolicy

import (
	"errors"
	"strings"

	"timechain/pkg/domain"
)

// ListAccessor extracts a possibly-nil list from a typed entity.
type ListAccessor[E any] func(entity E) []any

// SkipOnMissingListMember returns a domain.SkipPolicy that absorbs
// "index out of range" failures whenever accessor still resolves to a
// non-nil list on the entity reconstructed just before the failing patch.
// This is the common shape of corruption a shrunk list produces: a patch
// recorded against a longer list than the one actually present.
func SkipOnMissingListMember[E any](accessor ListAccessor[E]) domain.SkipPolicy {
	return func(entity any, _ *domain.Slice, err error) bool {
		if !isIndexOutOfRange(err) {
			return false
		}
		typed, ok := entity.(E)
		if !ok {
			return false
		}
		return accessor(typed) != nil
	}
}

func isIndexOutOfRange(err error) bool {
	if err == nil {
		return false
	}
	var oob *domain.IndexOutOfRangeError
	if errors.As(err, &oob) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "out of range") || strings.Contains(msg, "out of bounds")
}

// DefaultRegistry returns a Registry with "missing-list-member" registered
// against accessor.
func DefaultRegistry[E any](accessor ListAccessor[E]) *Registry {
	r := NewRegistry()
	r.Register("missing-list-member", SkipOnMissingListMember(accessor))
	return r
}
