package metadata

import (
	"context"
)

type CatalogConfig struct {
	PostgresDSN string
}

// Writer records deployment history.
type Writer interface {
	RecordDeployment(ctx context.Context, rec DeploymentRecord) error
	Close() error
}

// NewWriter returns a PostgreSQL writer when a DSN is configured and a no-op
// writer otherwise.
func NewWriter(ctx context.Context, cfg CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

type noopWriter struct{}

func (noopWriter) RecordDeployment(_ context.Context, _ DeploymentRecord) error { return nil }
func (noopWriter) Close() error                                                 { return nil }
