package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-athena-deployer/internal/athena"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/config"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/deploy"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/logging"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/metadata"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/metrics"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/storage"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/tables"
)

func newDeployCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create the database and provision every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if dryRun {
				return printPlan(cmd.OutOrStdout(), cfg)
			}
			return runDeploy(cmd.Context(), cfg)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the statements instead of submitting them")
	return cmd
}

func runDeploy(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	log := logger.With("component", "main")
	log.Info("athena deployer starting", "version", deploy.Version, "git_sha", deploy.GitSHA)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-ch:
			log.Warn("received signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()

	dc := deploymentContext(cfg)

	if cfg.Storage.Preflight {
		if err := preflight(ctx, cfg); err != nil {
			return err
		}
		log.Info("preflight passed", "data_bucket", dc.DataBucket(), "results_bucket", dc.ResultsBucket())
	}

	client, err := athena.New(ctx, athena.Config{
		Region:          cfg.Provider.Region,
		Profile:         cfg.Provider.Profile,
		Endpoint:        cfg.Athena.Endpoint,
		Workgroup:       cfg.Athena.Workgroup,
		AccessKeyID:     cfg.Provider.AccessKeyID,
		SecretAccessKey: cfg.Provider.SecretAccessKey,
		SessionToken:    cfg.Provider.SessionToken,
		PollInterval:    cfg.Athena.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("create athena client: %w", err)
	}

	m := metrics.New(cfg.Metrics.Namespace)
	deployOpts := []deploy.Option{
		deploy.WithLogger(logger),
		deploy.WithMetrics(m),
	}

	// Catalog failures are not fatal.
	catalog, err := metadata.NewWriter(ctx, metadata.CatalogConfig{PostgresDSN: cfg.Catalog.PostgresDSN})
	if err != nil {
		log.Warn("deployment catalog unavailable", "error", err)
	} else {
		defer catalog.Close()
		deployOpts = append(deployOpts, deploy.WithCatalog(catalog))
	}

	if cfg.Storage.Record {
		store, err := storage.OpenRecordStore(ctx, cfg.Storage.RecordDir,
			dc.ResultsBucket(), cfg.Provider.Region, cfg.Storage.Endpoint)
		if err != nil {
			log.Warn("manifest recording disabled", "error", err)
		} else {
			defer store.Close()
			log.Info("recording deployment manifests", "url", store.URL())
			deployOpts = append(deployOpts, deploy.WithManifestStore(store))
		}
	}

	d := deploy.New(cfg, client, deployOpts...)
	log.Info("deploying", "target", d.String(), "correlation_id", d.CorrelationID())

	runErr := d.Run(ctx)
	if runErr != nil {
		log.Info("waiting for in-flight tables")
	}
	d.Drain()

	pushMetrics(cfg, m, log)

	if runErr != nil {
		return runErr
	}
	log.Info("athena deployer finished")
	return nil
}

func deploymentContext(cfg config.Config) tables.DeploymentContext {
	return tables.DeploymentContext{ServiceName: cfg.Service, Stage: cfg.Provider.Stage}
}

func preflight(ctx context.Context, cfg config.Config) error {
	dc := deploymentContext(cfg)

	data, err := storage.OpenS3(ctx, dc.DataBucket(), cfg.Provider.Region, cfg.Storage.Endpoint)
	if err != nil {
		return err
	}
	defer data.Close()

	results, err := storage.OpenS3(ctx, dc.ResultsBucket(), cfg.Provider.Region, cfg.Storage.Endpoint)
	if err != nil {
		return err
	}
	defer results.Close()

	if err := storage.Preflight(ctx, data, results); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	return nil
}

func pushMetrics(cfg config.Config, m *metrics.Metrics, log *slog.Logger) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	// The run context may already be cancelled by a signal.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		log.Warn("failed to push metrics", "error", err)
	}
}
