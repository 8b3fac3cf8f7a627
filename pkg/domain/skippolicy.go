package domain

// SkipPolicy decides whether a failed patch application, unapplication, or
// final deserialization may be silently ignored during reconstruction.
//
// entity is the best-effort deserialization of the JSON state immediately
// before the failure; it is nil if that deserialization itself failed.
// slice is the slice whose patch failed, or nil when the failure happened
// during final deserialization rather than while walking a specific slice.
type SkipPolicy func(entity any, slice *Slice, err error) bool
