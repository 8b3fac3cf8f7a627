// Package domain implements a gapless chain of time-bounded patches over a
// single logical entity. A Chain reconstructs the entity's state at any
// instant by replaying (Forward chains) or unwinding (Backward chains) the
// patches carried by the slices that cover that instant.
//
// The package treats diffing, patch application and entity serialization as
// external collaborators (DiffEngine and Codec); it owns only the temporal
// bookkeeping.
package domain
