package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testManifest() *Manifest {
	return &Manifest{
		Deployment: DeploymentInfo{
			CorrelationID:       "c0ffee",
			Service:             "shop",
			Stage:               "dev",
			Region:              "us-east-1",
			Database:            "shop_dev",
			Policy:              "recreate",
			DataLocation:        "s3://shop-dev-data/",
			OutputLocation:      "s3://shop-dev-results/output/",
			DatabaseExecutionID: "exec-db",
		},
		Tables: map[string]TableInfo{
			"orders": {
				Location:          "s3://shop-dev-data/orders/",
				SchemaHash:        "sha256:abc123",
				DropExecutionID:   "exec-drop",
				CreateExecutionID: "exec-create",
			},
		},
		Producer: ProducerInfo{
			Name:    "athena-deployer",
			Version: "test",
		},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestManifestKey(t *testing.T) {
	if got := ManifestKey("shop_dev"); got != "deployments/shop_dev/_manifest.json" {
		t.Errorf("ManifestKey = %q", got)
	}
}

func TestMemStoreManifestRoundTrip(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, "mem://")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	key := ManifestKey("shop_dev")
	want := testManifest()

	if err := store.WriteManifest(ctx, key, want); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	got, err := store.ReadManifest(ctx, key)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}

	if got.Deployment != want.Deployment {
		t.Errorf("deployment = %+v, want %+v", got.Deployment, want.Deployment)
	}
	if got.Tables["orders"] != want.Tables["orders"] {
		t.Errorf("orders = %+v, want %+v", got.Tables["orders"], want.Tables["orders"])
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestReadManifest_Missing(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, "mem://")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if _, err := store.ReadManifest(ctx, ManifestKey("nope")); err == nil {
		t.Error("expected error for missing manifest")
	}
}

func TestLocalStoreWritesFile(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "records")

	store, err := OpenLocal(dir)
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	defer store.Close()

	if !strings.HasPrefix(store.URL(), "file://") {
		t.Errorf("URL = %q, want file:// prefix", store.URL())
	}

	key := ManifestKey("shop_dev")
	if err := store.WriteManifest(ctx, key, testManifest()); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("manifest file should exist: %v", err)
	}
	if !strings.Contains(string(data), `"database": "shop_dev"`) {
		t.Errorf("manifest should be indented JSON, got:\n%s", data)
	}

	if err := Preflight(ctx, store); err != nil {
		t.Errorf("Preflight on an existing directory failed: %v", err)
	}
}

func TestPreflight_MemBuckets(t *testing.T) {
	ctx := context.Background()

	data, err := Open(ctx, "mem://")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer data.Close()

	results, err := Open(ctx, "mem://")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer results.Close()

	if err := Preflight(ctx, data, results); err != nil {
		t.Errorf("Preflight failed: %v", err)
	}
	if err := Preflight(ctx); err != nil {
		t.Errorf("Preflight with no stores failed: %v", err)
	}
}

func TestOpenRecordStore_PrefersLocalDir(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenRecordStore(context.Background(), dir, "shop-dev-results", "us-east-1", "")
	if err != nil {
		t.Fatalf("OpenRecordStore failed: %v", err)
	}
	defer store.Close()

	if !strings.HasPrefix(store.URL(), "file://") {
		t.Errorf("expected a local store, got %q", store.URL())
	}
}

func TestS3URL(t *testing.T) {
	tests := []struct {
		bucket, region, endpoint string
		want                     string
	}{
		{"shop-dev-data", "", "", "s3://shop-dev-data"},
		{"shop-dev-data", "eu-west-1", "", "s3://shop-dev-data?region=eu-west-1"},
		{"b", "us-east-1", "http://localhost:4566", "s3://b?endpoint=http%3A%2F%2Flocalhost%3A4566&region=us-east-1&s3ForcePathStyle=true"},
	}

	for _, tt := range tests {
		if got := S3URL(tt.bucket, tt.region, tt.endpoint); got != tt.want {
			t.Errorf("S3URL(%q, %q, %q) = %q, want %q", tt.bucket, tt.region, tt.endpoint, got, tt.want)
		}
	}
}
