package deploy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/withObsrvr/obsrvr-athena-deployer/internal/metadata"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/storage"
)

const producerName = "athena-deployer"

// buildManifest describes a completed run.
func (d *Deployer) buildManifest(plan *Plan, createdAt time.Time) *storage.Manifest {
	dbID, execs := d.Executions()

	return &storage.Manifest{
		Deployment: storage.DeploymentInfo{
			CorrelationID:       d.correlationID,
			Service:             plan.Context.ServiceName,
			Stage:               plan.Context.Stage,
			Region:              d.cfg.Provider.Region,
			Database:            plan.Database,
			Policy:              string(plan.Policy),
			DataLocation:        plan.DataLocation,
			OutputLocation:      plan.OutputLocation,
			DatabaseExecutionID: dbID,
		},
		Tables: execs,
		Producer: storage.ProducerInfo{
			Name:    producerName,
			Version: Version,
			GitSHA:  GitSHA,
		},
		CreatedAt: createdAt.UTC(),
	}
}

// writeManifest is best effort: a failure is logged and does not change the
// outcome of the run.
func (d *Deployer) writeManifest(ctx context.Context, plan *Plan, start time.Time) {
	if d.manifests == nil {
		return
	}
	key := storage.ManifestKey(plan.Database)
	if err := d.manifests.WriteManifest(ctx, key, d.buildManifest(plan, start)); err != nil {
		d.log.Warn("failed to write deployment manifest", "key", key, "error", err)
		return
	}
	d.log.Info("wrote deployment manifest", "key", key)
}

// buildRecord describes a run for the catalog. plan is nil when planning
// failed.
func (d *Deployer) buildRecord(plan *Plan, start time.Time, runErr error) metadata.DeploymentRecord {
	dc := d.Context()
	rec := metadata.DeploymentRecord{
		CorrelationID:   d.correlationID,
		Service:         dc.ServiceName,
		Stage:           dc.Stage,
		Region:          d.cfg.Provider.Region,
		Database:        dc.DatabaseName(),
		Policy:          string(d.cfg.Athena.Policy),
		Err:             runErr,
		StartedAt:       start.UTC(),
		FinishedAt:      time.Now().UTC(),
		ProducerVersion: fmt.Sprintf("%s@%s", producerName, Version),
		ProducerGitSHA:  GitSHA,
	}

	if runErr != nil {
		rec.FailedStep = string(FailedStep(runErr))
		if rec.FailedStep == "" && plan == nil {
			rec.FailedStep = "plan"
		}
	}
	if plan == nil {
		return rec
	}

	rec.Policy = string(plan.Policy)
	_, execs := d.Executions()
	for _, t := range plan.Tables {
		rec.Tables = append(rec.Tables, metadata.TableRecord{
			Name:              t.Name,
			Location:          t.Location,
			SchemaHash:        t.SchemaHash,
			CreateExecutionID: execs[t.Name].CreateExecutionID,
		})
	}
	sort.Slice(rec.Tables, func(i, j int) bool { return rec.Tables[i].Name < rec.Tables[j].Name })
	return rec
}

// recordCatalog is best effort, like writeManifest.
func (d *Deployer) recordCatalog(ctx context.Context, plan *Plan, start time.Time, runErr error) {
	if d.catalog == nil {
		return
	}
	if err := d.catalog.RecordDeployment(ctx, d.buildRecord(plan, start, runErr)); err != nil {
		d.log.Warn("failed to record deployment in catalog", "error", err)
	}
}
