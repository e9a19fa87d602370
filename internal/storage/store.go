package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob" // mem:// driver
)

// ErrBucketNotAccessible is returned by Preflight for a bucket that does not
// exist or cannot be reached with the current credentials.
var ErrBucketNotAccessible = errors.New("bucket not accessible")

// Manifest records what a deployment submitted.
type Manifest struct {
	Deployment DeploymentInfo       `json:"deployment"`
	Tables     map[string]TableInfo `json:"tables"`
	Producer   ProducerInfo         `json:"producer"`
	CreatedAt  time.Time            `json:"created_at"`
}

// DeploymentInfo describes the deployment as a whole.
type DeploymentInfo struct {
	CorrelationID       string `json:"correlation_id"`
	Service             string `json:"service"`
	Stage               string `json:"stage"`
	Region              string `json:"region"`
	Database            string `json:"database"`
	Policy              string `json:"policy"`
	DataLocation        string `json:"data_location"`
	OutputLocation      string `json:"output_location"`
	DatabaseExecutionID string `json:"database_execution_id"`
}

// TableInfo describes a single provisioned table.
type TableInfo struct {
	Location          string `json:"location"`
	SchemaHash        string `json:"schema_hash"`
	DropExecutionID   string `json:"drop_execution_id,omitempty"`
	CreateExecutionID string `json:"create_execution_id"`
}

// ProducerInfo describes the software that produced the deployment.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the manifest as JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// ManifestKey returns the object key of a database's deployment manifest.
func ManifestKey(database string) string {
	return fmt.Sprintf("deployments/%s/_manifest.json", database)
}

// Store is a bucket the deployer reads from or writes to.
type Store struct {
	bucket *blob.Bucket
	url    string
}

// Open opens any bucket URL with a registered driver: s3://, file:// or mem://.
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &Store{bucket: bucket, url: bucketURL}, nil
}

// URL returns the URL the store was opened with.
func (s *Store) URL() string {
	return s.url
}

// Accessible reports an error if the bucket cannot be reached.
func (s *Store) Accessible(ctx context.Context) error {
	ok, err := s.bucket.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBucketNotAccessible, s.url, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBucketNotAccessible, s.url)
	}
	return nil
}

// WriteManifest writes a manifest file to the bucket.
func (s *Store) WriteManifest(ctx context.Context, key string, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write manifest to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	return nil
}

// ReadManifest reads back a manifest written by WriteManifest.
func (s *Store) ReadManifest(ctx context.Context, key string) (*Manifest, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open reader for %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", key, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", key, err)
	}
	return &m, nil
}

// Close releases the bucket connection.
func (s *Store) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// Preflight checks that every store is accessible and returns the first
// failure.
func Preflight(ctx context.Context, stores ...*Store) error {
	for _, s := range stores {
		if err := s.Accessible(ctx); err != nil {
			return err
		}
	}
	return nil
}
