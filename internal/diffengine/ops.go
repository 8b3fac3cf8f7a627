package diffengine

import (
	"encoding/json"
	"strconv"
	"strings"

	"timechain/pkg/domain"
)

// rfc6902Op mirrors one operation of an RFC 6902 JSON Patch document. Only
// the fields needed for bounds-checking are decoded; jsonpatch.DecodePatch
// handles the rest once bounds-checking has passed.
type rfc6902Op struct {
	Op   string          `json:"op"`
	Path string          `json:"path"`
	From string          `json:"from,omitempty"`
	Val  json.RawMessage `json:"value,omitempty"`
}

// checkBounds walks the path of each remove, replace and test op against
// doc (other ops, and the from of move/copy, are left to the patch library)
// and returns a *domain.IndexOutOfRangeError the moment an array index
// segment exceeds the target array's length, rather than deferring to
// whatever error text the underlying patch library happens to produce.
func checkBounds(doc []byte, ops []rfc6902Op) error {
	var root any
	if err := json.Unmarshal(doc, &root); err != nil {
		// Not our problem to diagnose; let the patch library's own Apply
		// surface the malformed-document error.
		return nil
	}
	for _, op := range ops {
		if op.Op != "remove" && op.Op != "replace" && op.Op != "test" {
			continue
		}
		if err := checkPath(root, op.Path); err != nil {
			return err
		}
	}
	return nil
}

func checkPath(root any, pointer string) error {
	if pointer == "" || pointer == "/" {
		return nil
	}
	tokens := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	cur := root
	for i, raw := range tokens {
		tok := unescapeToken(raw)
		switch v := cur.(type) {
		case []any:
			if tok == "-" {
				return nil
			}
			idx, err := strconv.Atoi(tok)
			if err != nil {
				return nil // not an array-index mismatch; let Apply report it
			}
			if idx < 0 || idx >= len(v) {
				return &domain.IndexOutOfRangeError{
					Path:  "/" + strings.Join(tokens[:i+1], "/"),
					Index: idx,
					Len:   len(v),
				}
			}
			cur = v[idx]
		case map[string]any:
			next, ok := v[tok]
			if !ok {
				return nil
			}
			cur = next
		default:
			return nil
		}
	}
	return nil
}

func unescapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}
