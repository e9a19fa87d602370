package metadata

import "time"

// Deployment outcomes stored in the catalog.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// DeploymentRecord is one row of deployment history.
type DeploymentRecord struct {
	CorrelationID string
	Service       string
	Stage         string
	Region        string
	Database      string
	Policy        string

	Tables []TableRecord

	// Err is the aggregate outcome of the run; nil means success.
	Err        error
	FailedStep string
	StartedAt  time.Time
	FinishedAt time.Time

	ProducerVersion string
	ProducerGitSHA  string
}

// TableRecord describes one table of a deployment.
type TableRecord struct {
	Name              string
	Location          string
	SchemaHash        string
	CreateExecutionID string
}

// Status returns StatusSucceeded or StatusFailed.
func (r DeploymentRecord) Status() string {
	if r.Err != nil {
		return StatusFailed
	}
	return StatusSucceeded
}

// ErrorMessage returns the error text, or "" for a successful run.
func (r DeploymentRecord) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Duration is the wall time of the run.
func (r DeploymentRecord) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
