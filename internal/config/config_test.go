package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every variable applyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ATHENA_SERVICE", "ATHENA_STAGE", "AWS_REGION", "AWS_PROFILE",
		"ATHENA_ACCESS_KEY_ID", "ATHENA_SECRET_ACCESS_KEY", "ATHENA_SESSION_TOKEN",
		"ATHENA_POLICY", "ATHENA_WORKGROUP", "ATHENA_ENDPOINT", "ATHENA_WAIT",
		"ATHENA_POLL_INTERVAL", "MAX_IN_FLIGHT_TABLES", "PREFLIGHT",
		"RECORD_MANIFEST", "RECORD_DIR", "S3_ENDPOINT", "CATALOG_DSN", "METRICS_PUSHGATEWAY",
		"METRICS_JOB", "METRICS_NAMESPACE", "LOG_FORMAT", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

const shopManifest = `
service: shop
provider:
  name: aws
  region: eu-west-1
  stage: dev
custom:
  athena:
    tables:
      - name: orders
        columns:
          - total double
          - currency string
      - name: refunds
`

func TestParse_Manifest(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(shopManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Service != "shop" {
		t.Errorf("Service = %q, want shop", cfg.Service)
	}
	if cfg.Provider.Region != "eu-west-1" {
		t.Errorf("Region = %q, want eu-west-1", cfg.Provider.Region)
	}
	if cfg.Provider.Stage != "dev" {
		t.Errorf("Stage = %q, want dev", cfg.Provider.Stage)
	}
	if len(cfg.Athena.Tables) != 2 {
		t.Fatalf("got %d tables, want 2", len(cfg.Athena.Tables))
	}
	orders := cfg.Athena.Tables[0]
	if orders.Name != "orders" || len(orders.Columns) != 2 || orders.Columns[1] != "currency string" {
		t.Errorf("unexpected orders table: %+v", orders)
	}
	if refunds := cfg.Athena.Tables[1]; len(refunds.Columns) != 0 {
		t.Errorf("refunds should have no columns, got %v", refunds.Columns)
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte("service: shop\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Provider.Region != DefaultRegion {
		t.Errorf("Region = %q, want %q", cfg.Provider.Region, DefaultRegion)
	}
	if cfg.Provider.Stage != DefaultStage {
		t.Errorf("Stage = %q, want %q", cfg.Provider.Stage, DefaultStage)
	}
	if cfg.Athena.Policy != PolicyRecreate {
		t.Errorf("Policy = %q, want %q", cfg.Athena.Policy, PolicyRecreate)
	}
	if cfg.Athena.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.Athena.PollInterval, DefaultPollInterval)
	}
	if cfg.Athena.SerDe.Class != DefaultSerDeClass {
		t.Errorf("SerDe.Class = %q", cfg.Athena.SerDe.Class)
	}
	if cfg.Athena.SerDe.Properties["ignore.malformed.json"] != "true" {
		t.Errorf("default serde properties missing: %v", cfg.Athena.SerDe.Properties)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestParse_ServiceObjectForm(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte("service:\n  name: orders-api\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Service != "orders-api" {
		t.Errorf("Service = %q, want orders-api", cfg.Service)
	}
}

func TestParse_AthenaOptions(t *testing.T) {
	clearEnv(t)

	data := `
service: shop
custom:
  athena:
    policy: idempotent
    workgroup: analytics
    wait_for_completion: true
    poll_interval: 500ms
    max_in_flight_tables: 3
    serde:
      class: org.apache.hive.hcatalog.data.JsonSerDe
      properties:
        case.insensitive: "false"
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	a := cfg.Athena
	if a.Policy != PolicyIdempotent {
		t.Errorf("Policy = %q", a.Policy)
	}
	if a.Workgroup != "analytics" {
		t.Errorf("Workgroup = %q", a.Workgroup)
	}
	if !a.WaitForCompletion {
		t.Error("WaitForCompletion should be true")
	}
	if a.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v", a.PollInterval)
	}
	if a.MaxInFlightTables != 3 {
		t.Errorf("MaxInFlightTables = %d", a.MaxInFlightTables)
	}
	if a.SerDe.Class != "org.apache.hive.hcatalog.data.JsonSerDe" {
		t.Errorf("SerDe.Class = %q", a.SerDe.Class)
	}
	if _, ok := a.SerDe.Properties["ignore.malformed.json"]; ok {
		t.Error("default properties must not be merged into an explicit serde")
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ATHENA_STAGE", "prod-east")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("ATHENA_POLICY", "idempotent")
	t.Setenv("ATHENA_WAIT", "true")
	t.Setenv("ATHENA_POLL_INTERVAL", "5s")
	t.Setenv("MAX_IN_FLIGHT_TABLES", "2")
	t.Setenv("PREFLIGHT", "1")
	t.Setenv("CATALOG_DSN", "postgres://localhost/catalog")

	cfg, err := Parse([]byte(shopManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Provider.Stage != "prod-east" {
		t.Errorf("Stage = %q, want prod-east", cfg.Provider.Stage)
	}
	if cfg.Provider.Region != "us-west-2" {
		t.Errorf("Region = %q, want us-west-2", cfg.Provider.Region)
	}
	if cfg.Athena.Policy != PolicyIdempotent {
		t.Errorf("Policy = %q", cfg.Athena.Policy)
	}
	if !cfg.Athena.WaitForCompletion {
		t.Error("WaitForCompletion should be true")
	}
	if cfg.Athena.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.Athena.PollInterval)
	}
	if cfg.Athena.MaxInFlightTables != 2 {
		t.Errorf("MaxInFlightTables = %d", cfg.Athena.MaxInFlightTables)
	}
	if !cfg.Storage.Preflight {
		t.Error("Preflight should be true")
	}
	if cfg.Catalog.PostgresDSN != "postgres://localhost/catalog" {
		t.Errorf("PostgresDSN = %q", cfg.Catalog.PostgresDSN)
	}
}

func TestParse_Invalid(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		data string
	}{
		{"missing service", "provider:\n  stage: dev\n"},
		{"unknown policy", "service: shop\ncustom:\n  athena:\n    policy: upsert\n"},
		{"unnamed table", "service: shop\ncustom:\n  athena:\n    tables:\n      - columns: [a string]\n"},
		{"negative limit", "service: shop\ncustom:\n  athena:\n    max_in_flight_tables: -1\n"},
	}

	for _, tt := range tests {
		_, err := Parse([]byte(tt.data))
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: error %v should wrap ErrInvalidConfig", tt.name, err)
		}
	}
}

func TestParse_StaticCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("ATHENA_ACCESS_KEY_ID", "AKIDEXAMPLE")

	if _, err := Parse([]byte("service: shop\n")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("key ID without secret should be rejected, got %v", err)
	}

	t.Setenv("ATHENA_SECRET_ACCESS_KEY", "secret")
	cfg, err := Parse([]byte("service: shop\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Provider.AccessKeyID != "AKIDEXAMPLE" || cfg.Provider.SecretAccessKey != "secret" {
		t.Errorf("credentials not applied: %+v", cfg.Provider)
	}
}

func TestApply_Overrides(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(shopManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	got, err := cfg.Apply(Overrides{Stage: "prod", Policy: "idempotent"})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got.Provider.Stage != "prod" || got.Athena.Policy != PolicyIdempotent {
		t.Errorf("overrides not applied: stage=%q policy=%q", got.Provider.Stage, got.Athena.Policy)
	}
	if got.Provider.Region != "eu-west-1" {
		t.Errorf("empty override should keep region, got %q", got.Provider.Region)
	}
	if cfg.Provider.Stage != "dev" {
		t.Error("Apply must not mutate the receiver")
	}

	if _, err := cfg.Apply(Overrides{Policy: "upsert"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for unknown policy, got %v", err)
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	clearEnv(t)

	if _, err := Parse([]byte("service: [unterminated")); err == nil {
		t.Error("expected decode error")
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "serverless.yml")
	if err := os.WriteFile(path, []byte(shopManifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service != "shop" {
		t.Errorf("Service = %q", cfg.Service)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("expected error for missing file")
	}
}
