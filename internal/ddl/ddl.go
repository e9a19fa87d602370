// Package ddl renders the query-service statements used to provision a
// deployment. There is one builder per statement kind. Identifiers and
// locations are validated before they are interpolated. Column strings are
// inserted verbatim.
package ddl

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrInvalidIdentifier is returned for database or table names the query
	// service would reject or that could alter the statement.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidLocation is returned for locations that are not s3:// URIs or
	// that contain a quote.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidTableDef is returned when a TableDef is incomplete.
	ErrInvalidTableDef = errors.New("invalid table definition")
)

const maxIdentifierLength = 255

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateIdentifier checks that name is a lowercase query-service identifier:
// letters, digits and underscores, not starting with a digit.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidIdentifier, name, maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q (want [a-z_][a-z0-9_]*)", ErrInvalidIdentifier, name)
	}
	return nil
}

func validateLocation(location string) error {
	if !strings.HasPrefix(location, "s3://") {
		return fmt.Errorf("%w: %q is not an s3:// URI", ErrInvalidLocation, location)
	}
	if strings.ContainsAny(location, "'\\\n") {
		return fmt.Errorf("%w: %q contains a quote, backslash or newline", ErrInvalidLocation, location)
	}
	return nil
}

func validateLiteral(kind, v string) error {
	if strings.ContainsAny(v, "'\\\n") {
		return fmt.Errorf("%w: %s %q contains a quote, backslash or newline", ErrInvalidTableDef, kind, v)
	}
	return nil
}

// CreateDatabase renders CREATE DATABASE IF NOT EXISTS for name rooted at
// location.
func CreateDatabase(name, location string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("database: %w", err)
	}
	if err := validateLocation(location); err != nil {
		return "", fmt.Errorf("database %s: %w", name, err)
	}
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s LOCATION '%s'", name, location), nil
}

// DropTable renders DROP TABLE IF EXISTS for name.
func DropTable(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("table: %w", err)
	}
	return "DROP TABLE IF EXISTS " + name, nil
}

// SerDe names a row format serializer and its properties.
type SerDe struct {
	Class      string
	Properties map[string]string
}

// TableDef describes an external table.
type TableDef struct {
	Name             string
	Columns          string   // comma-joined "name type" list, inserted verbatim
	PartitionColumns []string // "name type" entries for PARTITIONED BY
	Location         string
	IfNotExists      bool
	SerDe            *SerDe // nil omits ROW FORMAT
}

// CreateExternalTable renders CREATE EXTERNAL TABLE for def.
func CreateExternalTable(def TableDef) (string, error) {
	if err := ValidateIdentifier(def.Name); err != nil {
		return "", fmt.Errorf("table: %w", err)
	}
	if strings.TrimSpace(def.Columns) == "" {
		return "", fmt.Errorf("table %s: %w: no columns", def.Name, ErrInvalidTableDef)
	}
	if err := validateLocation(def.Location); err != nil {
		return "", fmt.Errorf("table %s: %w", def.Name, err)
	}

	var b strings.Builder
	b.WriteString("CREATE EXTERNAL TABLE ")
	if def.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(def.Name)
	b.WriteString(" (")
	b.WriteString(def.Columns)
	b.WriteString(")")

	if len(def.PartitionColumns) > 0 {
		b.WriteString(" PARTITIONED BY (")
		b.WriteString(strings.Join(def.PartitionColumns, ", "))
		b.WriteString(")")
	}

	if def.SerDe != nil {
		clause, err := serdeClause(*def.SerDe)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", def.Name, err)
		}
		b.WriteString(clause)
	}

	b.WriteString(" LOCATION '")
	b.WriteString(def.Location)
	b.WriteString("'")
	return b.String(), nil
}

// serdeClause renders ROW FORMAT SERDE with properties in key order so the
// statement is stable across runs.
func serdeClause(s SerDe) (string, error) {
	if s.Class == "" {
		return "", fmt.Errorf("%w: serde class is required", ErrInvalidTableDef)
	}
	if err := validateLiteral("serde class", s.Class); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(" ROW FORMAT SERDE '")
	b.WriteString(s.Class)
	b.WriteString("'")

	if len(s.Properties) == 0 {
		return b.String(), nil
	}

	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v := s.Properties[k]
		if err := validateLiteral("serde property", k); err != nil {
			return "", err
		}
		if err := validateLiteral("serde property value", v); err != nil {
			return "", err
		}
		pairs = append(pairs, fmt.Sprintf("'%s' = '%s'", k, v))
	}
	b.WriteString(" WITH SERDEPROPERTIES (")
	b.WriteString(strings.Join(pairs, ", "))
	b.WriteString(")")
	return b.String(), nil
}
