// Package diffengine adapts timechain/pkg/domain.DiffEngine to a real
// JSON Patch (RFC 6902) implementation: github.com/wI2L/jsondiff computes
// the operation list, github.com/evanphx/json-patch applies it.
//
// Because RFC 6902 patches are not self-inverting, Engine computes both
// directions at diff time and stores them side by side in the wire patch.
package diffengine

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/wI2L/jsondiff"

	"timechain/pkg/domain"
)

// Engine is the default domain.DiffEngine.
type Engine struct{}

// New returns an Engine. It holds no state; the zero value works too.
func New() *Engine { return &Engine{} }

type wirePatch struct {
	Forward json.RawMessage `json:"forward"`
	Reverse json.RawMessage `json:"reverse"`
}

// Diff computes an RFC 6902 patch transforming left into right, and its
// inverse, bundling both into the opaque domain.Patch.
func (e *Engine) Diff(left, right []byte) (domain.Patch, error) {
	forward, err := jsondiff.CompareJSON(left, right)
	if err != nil {
		return nil, fmt.Errorf("diffengine: compare forward: %w", err)
	}
	reverse, err := jsondiff.CompareJSON(right, left)
	if err != nil {
		return nil, fmt.Errorf("diffengine: compare reverse: %w", err)
	}
	forwardJSON, err := json.Marshal(forward)
	if err != nil {
		return nil, fmt.Errorf("diffengine: marshal forward patch: %w", err)
	}
	reverseJSON, err := json.Marshal(reverse)
	if err != nil {
		return nil, fmt.Errorf("diffengine: marshal reverse patch: %w", err)
	}
	return json.Marshal(wirePatch{Forward: forwardJSON, Reverse: reverseJSON})
}

// Apply applies patch's forward direction to doc.
func (e *Engine) Apply(doc []byte, patch domain.Patch) ([]byte, error) {
	return e.applyDirection(doc, patch, true)
}

// Unapply applies patch's reverse direction to doc.
func (e *Engine) Unapply(doc []byte, patch domain.Patch) ([]byte, error) {
	return e.applyDirection(doc, patch, false)
}

func (e *Engine) applyDirection(doc []byte, patch domain.Patch, forward bool) ([]byte, error) {
	var wp wirePatch
	if err := json.Unmarshal(patch, &wp); err != nil {
		return nil, fmt.Errorf("diffengine: unmarshal wire patch: %w", err)
	}
	raw := wp.Forward
	if !forward {
		raw = wp.Reverse
	}

	var ops []rfc6902Op
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("diffengine: unmarshal operations: %w", err)
	}
	if err := checkBounds(doc, ops); err != nil {
		return nil, err
	}

	decoded, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("diffengine: decode patch: %w", err)
	}
	out, err := decoded.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("diffengine: apply patch: %w", err)
	}
	return out, nil
}
