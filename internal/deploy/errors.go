package deploy

import (
	"errors"
	"fmt"
)

var (
	// ErrDatabaseProvisioning matches any failure of the database step.
	ErrDatabaseProvisioning = errors.New("database provisioning failed")

	// ErrTableProvisioning matches any failure of a table drop or create.
	ErrTableProvisioning = errors.New("table provisioning failed")

	// ErrInvalidPlan is returned when statements cannot be built from the
	// configuration. Nothing has been submitted when it is returned.
	ErrInvalidPlan = errors.New("invalid deployment plan")
)

// Step identifies which submission of a deployment failed.
type Step string

const (
	StepDatabaseCreate Step = "database-create"
	StepTableDrop      Step = "table-drop"
	StepTableCreate    Step = "table-create"
)

// StepError wraps a submission failure with the step and table it belongs to.
// It matches ErrDatabaseProvisioning or ErrTableProvisioning and the
// underlying error with errors.Is.
type StepError struct {
	Step        Step
	Table       string // empty for database-create
	ExecutionID string // set when the statement was accepted but did not succeed
	Err         error
}

func (e *StepError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Step, e.Table, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Step == StepDatabaseCreate {
		return []error{ErrDatabaseProvisioning, e.Err}
	}
	return []error{ErrTableProvisioning, e.Err}
}

// FailedStep returns the step of the first StepError in err's chain, or ""
// when there is none.
func FailedStep(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
