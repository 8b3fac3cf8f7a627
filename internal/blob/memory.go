package blob

import (
	memorystore "timechain/internal/infra/blob/memory"
)

// NewMemory returns an in-memory archive Store, useful in tests that
// exercise Service.Archive/LatestArchive without touching a filesystem.
func NewMemory() Store { return memorystore.New() }
