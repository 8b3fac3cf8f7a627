package domain

// Reconstruction is the result of PatchToDate: the entity at the requested
// instant plus sidebands describing any failures that skip policies
// absorbed along the way.
type Reconstruction[E any] struct {
	Entity E

	// SkippedSlices lists, in chain order, every slice whose patch failed
	// and was absorbed by a skip policy.
	SkippedSlices []Slice

	// PatchesHaveBeenSkipped is a convenience summary of len(SkippedSlices) > 0.
	PatchesHaveBeenSkipped bool

	// FinalDeserializationFailed reports that the fully-patched document
	// could not be turned back into E and a skip policy absorbed that
	// failure too. Entity is the caller-supplied initial entity in that
	// case, unchanged.
	FinalDeserializationFailed bool
}
