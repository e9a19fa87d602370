package tables

import "strings"

// Spec is a table as declared in the deployment manifest.
type Spec struct {
	Name string
	// Columns are "name type" pairs inserted verbatim, in order.
	Columns []string
}

// SystemColumns lead every generated table.
var SystemColumns = []string{
	"id string",
	"created string",
	"updated string",
}

// ColumnString returns the comma-joined column list for the table: the
// system columns followed by the declared columns, with no trailing comma.
func (s Spec) ColumnString() string {
	cols := make([]string, 0, len(SystemColumns)+len(s.Columns))
	cols = append(cols, SystemColumns...)
	cols = append(cols, s.Columns...)
	return strings.Join(cols, ",")
}
