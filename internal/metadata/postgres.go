package metadata

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/obsrvr-athena-deployer/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresWriter connects to the catalog and creates its tables.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// One deployment writes a handful of rows.
	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool: pool,
		log:  logging.Component("metadata"),
	}

	if err := w.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w.log.Info("connected to PostgreSQL catalog")
	return w, nil
}

// initSchema creates the _meta_* tables if they don't exist.
func (w *PostgresWriter) initSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// RecordDeployment inserts the deployment and its tables in one transaction.
func (w *PostgresWriter) RecordDeployment(ctx context.Context, rec DeploymentRecord) error {
	if rec.CorrelationID == "" {
		rec.CorrelationID = logging.CorrelationID(ctx)
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO _meta_deployments (
			correlation_id, service, stage, region, database_name, policy,
			status, failed_step, error_message, started_at, finished_at,
			producer_version, producer_git_sha
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`,
		rec.CorrelationID,
		rec.Service,
		rec.Stage,
		rec.Region,
		rec.Database,
		rec.Policy,
		rec.Status(),
		nullable(rec.FailedStep),
		nullable(rec.ErrorMessage()),
		rec.StartedAt,
		rec.FinishedAt,
		rec.ProducerVersion,
		nullable(rec.ProducerGitSHA),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}

	if len(rec.Tables) > 0 {
		batch := &pgx.Batch{}
		for _, t := range rec.Tables {
			batch.Queue(`
				INSERT INTO _meta_deployment_tables (
					deployment_id, table_name, location, schema_hash, create_execution_id
				)
				VALUES ($1, $2, $3, $4, $5)
			`, id, t.Name, t.Location, t.SchemaHash, nullable(t.CreateExecutionID))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert deployment tables: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	w.log.Info("recorded deployment",
		"database", rec.Database,
		"status", rec.Status(),
		"tables", len(rec.Tables),
		"duration", rec.Duration(),
	)
	return nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
