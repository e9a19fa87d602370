// Package deploy provisions an Athena database and its external tables.
//
// A run creates the database first, then provisions every table
// concurrently. Under the recreate policy each table is dropped and created
// again; under the idempotent policy it is created only if missing. The run
// fails with the first table failure as soon as it is observed, without
// cancelling sibling tables. Drain waits for those siblings.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-athena-deployer/internal/athena"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/config"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/ddl"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/logging"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/metadata"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/metrics"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/storage"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/tables"
)

// recordTimeout bounds the manifest and catalog writes that end a run.
const recordTimeout = 10 * time.Second

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// QueryService submits statements. *athena.Client implements it.
type QueryService interface {
	Submit(ctx context.Context, q athena.Query) (string, error)
	Wait(ctx context.Context, executionID string) error
}

// ManifestWriter persists deployment manifests. *storage.Store implements it.
type ManifestWriter interface {
	WriteManifest(ctx context.Context, key string, m *storage.Manifest) error
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithLogger sets the base logger. Deployment fields are added to it.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deployer) { d.baseLog = l }
}

// WithCorrelationID fixes the correlation ID instead of generating one.
func WithCorrelationID(id string) Option {
	return func(d *Deployer) { d.correlationID = id }
}

// WithMetrics records submission metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deployer) { d.metrics = m }
}

// WithCatalog records every run in the deployment catalog.
func WithCatalog(w metadata.Writer) Option {
	return func(d *Deployer) { d.catalog = w }
}

// WithManifestStore writes a manifest after each successful run.
func WithManifestStore(w ManifestWriter) Option {
	return func(d *Deployer) { d.manifests = w }
}

// Deployer runs deployments for one configuration.
type Deployer struct {
	cfg     config.Config
	svc     QueryService
	metrics *metrics.Metrics

	catalog   metadata.Writer
	manifests ManifestWriter

	baseLog       *slog.Logger
	log           *slog.Logger
	correlationID string

	inFlight sync.WaitGroup

	mu         sync.Mutex
	databaseID string
	executions map[string]storage.TableInfo
}

// New creates a Deployer. cfg is copied and never mutated.
func New(cfg config.Config, svc QueryService, opts ...Option) *Deployer {
	d := &Deployer{
		cfg:        cfg,
		svc:        svc,
		executions: make(map[string]storage.TableInfo),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.correlationID == "" {
		d.correlationID = logging.GenerateCorrelationID()
	}
	d.log = logging.DeploymentLogger(d.baseLog, d.correlationID,
		cfg.Service, cfg.Provider.Stage, d.Context().DatabaseName())
	return d
}

// Context returns the deployment context derived from the configuration.
func (d *Deployer) Context() tables.DeploymentContext {
	return tables.DeploymentContext{
		ServiceName: d.cfg.Service,
		Stage:       d.cfg.Provider.Stage,
	}
}

// CorrelationID identifies this deployer's runs in logs, manifests and the
// catalog.
func (d *Deployer) CorrelationID() string {
	return d.correlationID
}

// Plan builds every statement the deployment would submit.
func (d *Deployer) Plan() (*Plan, error) {
	a := d.cfg.Athena
	serde := ddl.SerDe{Class: a.SerDe.Class, Properties: a.SerDe.Properties}
	if serde.Class == "" {
		serde.Class = config.DefaultSerDeClass
	}
	return BuildPlan(d.Context(), specsFromConfig(a.Tables), a.Policy, serde)
}

// Run performs one deployment. It returns nil once the database and every
// table statement have been accepted, or the first failure. Sibling tables
// still in flight when Run fails keep running; call Drain to wait for them.
// The outcome is recorded only after those siblings have finished.
func (d *Deployer) Run(ctx context.Context) error {
	start := time.Now()
	ctx = logging.WithCorrelationID(ctx, d.correlationID)

	d.resetExecutions()

	plan, err := d.Plan()
	if err != nil {
		d.log.Error("planning failed", "error", err)
		d.finish(ctx, nil, start, err)
		return err
	}

	d.log.Info("starting deployment",
		"policy", plan.Policy,
		"tables", len(plan.Tables),
		"output_location", plan.OutputLocation,
	)

	id, err := d.submit(ctx, d.log, plan, plan.CreateDatabase)
	if err != nil {
		d.finish(ctx, plan, start, err)
		return err
	}
	d.mu.Lock()
	d.databaseID = id
	d.mu.Unlock()

	tablesDone, err := d.provisionTables(ctx, plan)
	if err != nil {
		d.inFlight.Add(1)
		go func() {
			defer d.inFlight.Done()
			<-tablesDone
			d.finish(ctx, plan, start, err)
		}()
		return err
	}

	d.finish(ctx, plan, start, nil)
	return nil
}

// finish observes the run duration and writes the manifest and catalog
// record. It must only be called once no statement of the run is in flight.
// plan is nil when planning failed.
func (d *Deployer) finish(ctx context.Context, plan *Plan, start time.Time, err error) {
	elapsed := time.Since(start)
	d.metrics.ObserveDeployment(elapsed)

	// The run context may already be cancelled by a signal.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	switch {
	case err == nil:
		d.log.Info("deployment complete",
			"tables", len(plan.Tables),
			"policy", plan.Policy,
			"duration", elapsed,
		)
		d.writeManifest(ctx, plan, start)
	case plan != nil:
		d.log.Error("deployment failed", "step", FailedStep(err), "error", err, "duration", elapsed)
	}
	d.recordCatalog(ctx, plan, start, err)
}

// Drain blocks until every table sub-sequence started by Run has finished
// and the run's outcome has been recorded.
func (d *Deployer) Drain() {
	d.inFlight.Wait()
}

// provisionTables fans out one goroutine per table and returns as soon as
// any of them fails, or nil once all have succeeded. The returned channel is
// closed when every table sub-sequence has finished.
func (d *Deployer) provisionTables(ctx context.Context, plan *Plan) (<-chan struct{}, error) {
	var g errgroup.Group
	if n := d.cfg.Athena.MaxInFlightTables; n > 0 {
		g.SetLimit(n)
	}

	failed := make(chan error, 1)
	done := make(chan struct{})

	// g.Go blocks once the limit is reached, so the fan-out runs off the
	// caller's goroutine to keep the first failure observable.
	d.inFlight.Add(1)
	go func() {
		defer d.inFlight.Done()
		defer close(done)

		for _, t := range plan.Tables {
			t := t // per-iteration copy; go directive is 1.21 (pre-1.22 loopvar semantics)
			g.Go(func() error {
				err := d.provisionTable(ctx, plan, t)
				d.metrics.ObserveTable(err)
				if err != nil {
					select {
					case failed <- err:
					default:
					}
				}
				return err
			})
		}
		_ = g.Wait()
	}()

	select {
	case err := <-failed:
		return done, err
	case <-done:
		select {
		case err := <-failed:
			return done, err
		default:
			return done, nil
		}
	}
}

func (d *Deployer) provisionTable(ctx context.Context, plan *Plan, t TablePlan) error {
	log := logging.TableLogger(d.log, t.Name)

	info := storage.TableInfo{Location: t.Location, SchemaHash: t.SchemaHash}

	if t.Drop != nil {
		id, err := d.submit(ctx, log, plan, *t.Drop)
		if err != nil {
			return err
		}
		info.DropExecutionID = id
	}

	id, err := d.submit(ctx, log, plan, t.Create)
	if err != nil {
		return err
	}
	info.CreateExecutionID = id

	d.mu.Lock()
	d.executions[t.Name] = info
	d.mu.Unlock()
	return nil
}

// submit sends one statement and, when configured, waits for it to finish.
func (d *Deployer) submit(ctx context.Context, log *slog.Logger, plan *Plan, st Statement) (string, error) {
	log.Info("submitting statement", "step", st.Step)
	log.Debug("statement", "step", st.Step, "sql", st.SQL)

	start := time.Now()
	id, err := d.svc.Submit(ctx, athena.Query{
		SQL:            st.SQL,
		Database:       st.Database,
		OutputLocation: plan.OutputLocation,
	})
	if err == nil && d.cfg.Athena.WaitForCompletion {
		err = d.svc.Wait(ctx, id)
	}
	d.metrics.ObserveStatement(string(st.Step), time.Since(start), err)

	if err != nil {
		log.Error("statement failed", "step", st.Step, "execution_id", id, "error", err)
		return id, &StepError{Step: st.Step, Table: st.Table, ExecutionID: id, Err: err}
	}

	log.Info("statement accepted", "step", st.Step, "execution_id", id)
	return id, nil
}

func (d *Deployer) resetExecutions() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.databaseID = ""
	d.executions = make(map[string]storage.TableInfo)
}

// Executions returns the database execution ID and a copy of the per-table
// execution IDs recorded so far.
func (d *Deployer) Executions() (string, map[string]storage.TableInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]storage.TableInfo, len(d.executions))
	for k, v := range d.executions {
		out[k] = v
	}
	return d.databaseID, out
}

// String describes the deployment for log lines and CLI output.
func (d *Deployer) String() string {
	dc := d.Context()
	return fmt.Sprintf("%s/%s (%s, %s)", dc.ServiceName, dc.Stage, dc.DatabaseName(), d.cfg.Provider.Region)
}
