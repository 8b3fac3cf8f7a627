package blob

import (
	"context"
	"fmt"
	"os"
)

// Open selects the archive Store implementation Service.Archive writes
// timeline snapshots to, using environment variables.
//
//	TIMECHAIN_BLOB_DRIVER: fs|s3|memory (default fs)
//	TIMECHAIN_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in internal/infra/blob/s3/store.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("TIMECHAIN_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		root := os.Getenv("TIMECHAIN_BLOB_FS_ROOT")
		return NewFilesystem(root)
	case DriverS3:
		return OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
