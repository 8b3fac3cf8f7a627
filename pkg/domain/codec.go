package domain

import "encoding/json"

// Codec is the external collaborator responsible for crossing the boundary
// between an entity value and the JSON a DiffEngine operates on.
type Codec[E any] interface {
	Serialize(entity E) ([]byte, error)
	Deserialize(data []byte) (E, error)
}

// Populator is an optional extension of Codec for entities that support
// in-place deserialization (e.g. to preserve identity or unexported state
// across reconstructions). Chain detects it with a type assertion; Codecs
// that don't implement it simply allocate a fresh E on every
// reconstruction.
type Populator[E any] interface {
	Populate(data []byte, target *E) error
}

// jsonCodec is the ambient default Codec: plain encoding/json, matching the
// "default uses the ambient JSON engine" behavior entities get when no
// explicit Codec is configured.
type jsonCodec[E any] struct{}

func (jsonCodec[E]) Serialize(entity E) ([]byte, error) { return json.Marshal(entity) }

func (jsonCodec[E]) Deserialize(data []byte) (E, error) {
	var entity E
	if err := json.Unmarshal(data, &entity); err != nil {
		var zero E
		return zero, err
	}
	return entity, nil
}

func (jsonCodec[E]) Populate(data []byte, target *E) error {
	return json.Unmarshal(data, target)
}
