package deploy

import (
	"fmt"
	"strings"

	"github.com/withObsrvr/obsrvr-athena-deployer/internal/config"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/ddl"
	"github.com/withObsrvr/obsrvr-athena-deployer/internal/tables"
)

// Statement is one query-service submission.
type Statement struct {
	Step     Step
	Table    string // empty for the database statement
	Database string // execution context; empty for the database statement
	SQL      string
}

// TablePlan holds the statements of one table sub-sequence.
type TablePlan struct {
	Name       string
	Location   string
	SchemaHash string
	Drop       *Statement // nil under the idempotent policy
	Create     Statement
}

// Statements returns the table's statements in submission order.
func (t TablePlan) Statements() []Statement {
	if t.Drop == nil {
		return []Statement{t.Create}
	}
	return []Statement{*t.Drop, t.Create}
}

// Plan is every statement of a deployment, built before anything is
// submitted.
type Plan struct {
	Context        tables.DeploymentContext
	Database       string
	Policy         config.Policy
	DataLocation   string
	OutputLocation string
	CreateDatabase Statement
	Tables         []TablePlan
}

// Statements returns the database statement followed by each table's
// statements in declaration order. Tables are submitted concurrently, so this
// is a listing order, not a guaranteed submission order across tables.
func (p *Plan) Statements() []Statement {
	out := []Statement{p.CreateDatabase}
	for _, t := range p.Tables {
		out = append(out, t.Statements()...)
	}
	return out
}

// BuildPlan renders the statements for a deployment. It fails on an unknown
// policy, an invalid identifier or location, or a duplicated table name.
// Table names are folded to lowercase, so "Orders" and "orders" collide.
func BuildPlan(dc tables.DeploymentContext, specs []tables.Spec, policy config.Policy, serde ddl.SerDe) (*Plan, error) {
	if policy == "" {
		policy = config.PolicyRecreate
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidPlan, policy)
	}

	database := dc.DatabaseName()
	createDB, err := ddl.CreateDatabase(database, dc.DataLocation())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}

	plan := &Plan{
		Context:        dc,
		Database:       database,
		Policy:         policy,
		DataLocation:   dc.DataLocation(),
		OutputLocation: dc.OutputLocation(),
		CreateDatabase: Statement{Step: StepDatabaseCreate, SQL: createDB},
		Tables:         make([]TablePlan, 0, len(specs)),
	}

	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		name := tableName(spec.Name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: table %q declared more than once", ErrInvalidPlan, name)
		}
		seen[name] = struct{}{}

		tp, err := planTable(dc, database, spec, policy, serde)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
		}
		plan.Tables = append(plan.Tables, tp)
	}

	return plan, nil
}

// tableName folds a declared name the way the query service does. The data
// location keeps the declared spelling.
func tableName(declared string) string {
	return strings.ToLower(declared)
}

func planTable(dc tables.DeploymentContext, database string, spec tables.Spec, policy config.Policy, serde ddl.SerDe) (TablePlan, error) {
	name := tableName(spec.Name)
	def := ddl.TableDef{
		Name:             name,
		Columns:          spec.ColumnString(),
		PartitionColumns: tables.PartitionColumns,
		Location:         dc.TableLocation(spec.Name),
	}

	tp := TablePlan{
		Name:     name,
		Location: def.Location,
	}

	switch policy {
	case config.PolicyRecreate:
		drop, err := ddl.DropTable(name)
		if err != nil {
			return TablePlan{}, err
		}
		tp.Drop = &Statement{Step: StepTableDrop, Table: name, Database: database, SQL: drop}

	case config.PolicyIdempotent:
		def.IfNotExists = true
		s := serde
		def.SerDe = &s
	}

	create, err := ddl.CreateExternalTable(def)
	if err != nil {
		return TablePlan{}, err
	}
	tp.Create = Statement{Step: StepTableCreate, Table: name, Database: database, SQL: create}
	tp.SchemaHash = tables.SchemaHash(create)
	return tp, nil
}

// specsFromConfig converts manifest tables to table specifications.
func specsFromConfig(tcs []config.TableConfig) []tables.Spec {
	specs := make([]tables.Spec, 0, len(tcs))
	for _, tc := range tcs {
		specs = append(specs, tables.Spec{Name: tc.Name, Columns: tc.Columns})
	}
	return specs
}
