package tables

import (
	"fmt"
	"strings"
)

// DeploymentContext identifies one deployment of a service to a stage.
type DeploymentContext struct {
	ServiceName string // "orders-api"
	Stage       string // "prod-east"
}

// DatabaseName returns the query-service database for this deployment:
// service and stage joined with underscores, lowercased, with every hyphen
// replaced by an underscore.
func (c DeploymentContext) DatabaseName() string {
	name := strings.ToLower(c.ServiceName + "-" + c.Stage)
	return strings.ReplaceAll(name, "-", "_")
}

// DataBucket returns the bucket holding table data.
func (c DeploymentContext) DataBucket() string {
	return fmt.Sprintf("%s-%s-data", c.ServiceName, c.Stage)
}

// ResultsBucket returns the bucket receiving query output.
func (c DeploymentContext) ResultsBucket() string {
	return fmt.Sprintf("%s-%s-results", c.ServiceName, c.Stage)
}

// DataLocation returns the database location root.
func (c DeploymentContext) DataLocation() string {
	return fmt.Sprintf("s3://%s/", c.DataBucket())
}

// TableLocation returns the data location of a single table.
func (c DeploymentContext) TableLocation(table string) string {
	return fmt.Sprintf("s3://%s/%s/", c.DataBucket(), table)
}

// OutputLocation returns where the query service writes statement results.
// Every submission must carry it.
func (c DeploymentContext) OutputLocation() string {
	return fmt.Sprintf("s3://%s/output/", c.ResultsBucket())
}
