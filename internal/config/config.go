package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy selects how tables are provisioned.
type Policy string

const (
	// PolicyRecreate drops each table and creates it again.
	PolicyRecreate Policy = "recreate"
	// PolicyIdempotent creates each table only if it does not exist.
	PolicyIdempotent Policy = "idempotent"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == PolicyRecreate || p == PolicyIdempotent
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Service  string
	Provider ProviderConfig
	Athena   AthenaConfig
	Storage  StorageConfig
	Catalog  CatalogConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

type ProviderConfig struct {
	Region  string `yaml:"region"`
	Stage   string `yaml:"stage"`
	Profile string `yaml:"profile"`

	// Deploy-only static credentials, never read from the manifest. When
	// unset the default AWS credential chain applies.
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
	SessionToken    string `yaml:"-"`
}

type AthenaConfig struct {
	Policy            Policy        `yaml:"policy"`
	Workgroup         string        `yaml:"workgroup"`
	Endpoint          string        `yaml:"endpoint"`
	WaitForCompletion bool          `yaml:"wait_for_completion"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxInFlightTables int           `yaml:"max_in_flight_tables"`
	SerDe             SerDeConfig   `yaml:"serde"`
	Tables            []TableConfig `yaml:"tables"`
}

type SerDeConfig struct {
	Class      string            `yaml:"class"`
	Properties map[string]string `yaml:"properties"`
}

type TableConfig struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
}

type StorageConfig struct {
	Preflight bool
	Record    bool
	RecordDir string // write manifests here instead of the results bucket
	Endpoint  string // custom S3 endpoint (MinIO, localstack)
}

type CatalogConfig struct {
	PostgresDSN string
}

type MetricsConfig struct {
	PushgatewayURL string
	Job            string
	Namespace      string
}

type LoggingConfig struct {
	Format string
	Level  string
}

// Defaults applied when neither the manifest nor the environment sets a value.
const (
	DefaultRegion       = "us-east-1"
	DefaultStage        = "dev"
	DefaultPollInterval = 2 * time.Second
	DefaultSerDeClass   = "org.openx.data.jsonserde.JsonSerDe"
)

// manifest mirrors the subset of a serverless-style deployment manifest the
// deployer reads.
type manifest struct {
	Service  serviceName    `yaml:"service"`
	Provider ProviderConfig `yaml:"provider"`
	Custom   struct {
		Athena AthenaConfig `yaml:"athena"`
	} `yaml:"custom"`
}

// serviceName accepts both `service: name` and `service: {name: name}`.
type serviceName string

func (s *serviceName) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = serviceName(node.Value)
		return nil
	case yaml.MappingNode:
		var v struct {
			Name string `yaml:"name"`
		}
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = serviceName(v.Name)
		return nil
	default:
		return fmt.Errorf("service: unexpected yaml kind %d", node.Kind)
	}
}

// Parse decodes a manifest, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (Config, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("decode manifest: %w", err)
	}

	cfg := Config{
		Service:  string(m.Service),
		Provider: m.Provider,
		Athena:   m.Custom.Athena,
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Overrides are command-line values that take precedence over the manifest
// and the environment. Empty fields leave the config unchanged.
type Overrides struct {
	Stage  string
	Region string
	Policy string
}

// Apply returns a copy of c with o applied, validated again.
func (c Config) Apply(o Overrides) (Config, error) {
	if o.Stage != "" {
		c.Provider.Stage = o.Stage
	}
	if o.Region != "" {
		c.Provider.Region = o.Region
	}
	if o.Policy != "" {
		c.Athena.Policy = Policy(o.Policy)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the fields the deployer cannot run without. Identifier
// rules are enforced later, when statements are built.
func (c Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("%w: service is required", ErrInvalidConfig)
	}
	if c.Provider.Stage == "" {
		return fmt.Errorf("%w: provider.stage is required", ErrInvalidConfig)
	}
	if c.Provider.Region == "" {
		return fmt.Errorf("%w: provider.region is required", ErrInvalidConfig)
	}
	if !c.Athena.Policy.Valid() {
		return fmt.Errorf("%w: unknown policy %q (want %q or %q)",
			ErrInvalidConfig, c.Athena.Policy, PolicyRecreate, PolicyIdempotent)
	}
	if (c.Provider.AccessKeyID == "") != (c.Provider.SecretAccessKey == "") {
		return fmt.Errorf("%w: ATHENA_ACCESS_KEY_ID and ATHENA_SECRET_ACCESS_KEY must be set together", ErrInvalidConfig)
	}
	if c.Athena.MaxInFlightTables < 0 {
		return fmt.Errorf("%w: max_in_flight_tables must not be negative", ErrInvalidConfig)
	}
	for i, t := range c.Athena.Tables {
		if t.Name == "" {
			return fmt.Errorf("%w: custom.athena.tables[%d].name is required", ErrInvalidConfig, i)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Service = getenvDefault("ATHENA_SERVICE", cfg.Service)
	cfg.Provider.Stage = getenvDefault("ATHENA_STAGE", cfg.Provider.Stage)
	cfg.Provider.Region = getenvDefault("AWS_REGION", cfg.Provider.Region)
	cfg.Provider.Profile = getenvDefault("AWS_PROFILE", cfg.Provider.Profile)
	cfg.Provider.AccessKeyID = getenvDefault("ATHENA_ACCESS_KEY_ID", cfg.Provider.AccessKeyID)
	cfg.Provider.SecretAccessKey = getenvDefault("ATHENA_SECRET_ACCESS_KEY", cfg.Provider.SecretAccessKey)
	cfg.Provider.SessionToken = getenvDefault("ATHENA_SESSION_TOKEN", cfg.Provider.SessionToken)

	cfg.Athena.Policy = Policy(getenvDefault("ATHENA_POLICY", string(cfg.Athena.Policy)))
	cfg.Athena.Workgroup = getenvDefault("ATHENA_WORKGROUP", cfg.Athena.Workgroup)
	cfg.Athena.Endpoint = getenvDefault("ATHENA_ENDPOINT", cfg.Athena.Endpoint)
	cfg.Athena.WaitForCompletion = getenvBool("ATHENA_WAIT", cfg.Athena.WaitForCompletion)
	if v := os.Getenv("ATHENA_POLL_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Athena.PollInterval = parsed
		}
	}
	if v := os.Getenv("MAX_IN_FLIGHT_TABLES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Athena.MaxInFlightTables = parsed
		}
	}

	cfg.Storage.Preflight = getenvBool("PREFLIGHT", cfg.Storage.Preflight)
	cfg.Storage.Record = getenvBool("RECORD_MANIFEST", cfg.Storage.Record)
	cfg.Storage.RecordDir = getenvDefault("RECORD_DIR", cfg.Storage.RecordDir)
	cfg.Storage.Endpoint = getenvDefault("S3_ENDPOINT", cfg.Storage.Endpoint)

	cfg.Catalog.PostgresDSN = getenvDefault("CATALOG_DSN", cfg.Catalog.PostgresDSN)

	cfg.Metrics.PushgatewayURL = getenvDefault("METRICS_PUSHGATEWAY", cfg.Metrics.PushgatewayURL)
	cfg.Metrics.Job = getenvDefault("METRICS_JOB", cfg.Metrics.Job)
	cfg.Metrics.Namespace = getenvDefault("METRICS_NAMESPACE", cfg.Metrics.Namespace)

	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Region == "" {
		cfg.Provider.Region = DefaultRegion
	}
	if cfg.Provider.Stage == "" {
		cfg.Provider.Stage = DefaultStage
	}
	if cfg.Athena.Policy == "" {
		cfg.Athena.Policy = PolicyRecreate
	}
	if cfg.Athena.PollInterval <= 0 {
		cfg.Athena.PollInterval = DefaultPollInterval
	}
	if cfg.Athena.SerDe.Class == "" {
		cfg.Athena.SerDe.Class = DefaultSerDeClass
		if cfg.Athena.SerDe.Properties == nil {
			cfg.Athena.SerDe.Properties = map[string]string{"ignore.malformed.json": "true"}
		}
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = "athena_deployer"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}
