package storage

import (
	"context"
	"fmt"
	"net/url"

	_ "gocloud.dev/blob/s3blob" // S3 driver
)

// S3URL builds a gocloud bucket URL for an S3-compatible bucket.
// Works with AWS S3 and, through endpoint, MinIO and localstack.
func S3URL(bucketName, region, endpoint string) string {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return bucketURL
}

// OpenS3 opens an S3-compatible bucket.
func OpenS3(ctx context.Context, bucketName, region, endpoint string) (*Store, error) {
	s, err := Open(ctx, S3URL(bucketName, region, endpoint))
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}
	return s, nil
}
