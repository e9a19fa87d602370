package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gocloud.dev/blob/fileblob"
)

// OpenLocal opens a directory on the local filesystem as a bucket, creating
// it if needed.
func OpenLocal(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	// Ensure base directory exists
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", abs, err)
	}

	bucket, err := fileblob.OpenBucket(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open local bucket %s: %w", abs, err)
	}
	return &Store{bucket: bucket, url: "file://" + filepath.ToSlash(abs)}, nil
}

// OpenRecordStore picks where deployment manifests go: a local directory
// when one is configured, otherwise the results bucket.
func OpenRecordStore(ctx context.Context, localDir, resultsBucket, region, endpoint string) (*Store, error) {
	if localDir != "" {
		return OpenLocal(localDir)
	}
	return OpenS3(ctx, resultsBucket, region, endpoint)
}
