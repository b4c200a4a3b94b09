// Package config resolves the service configuration. Sources are layered,
// later ones winning: built-in defaults, an optional YAML file, a .env file,
// the process environment, command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"stealthcompany.com/esistatus/internal/enrich"
	"stealthcompany.com/esistatus/internal/health"
)

// Backend names
const (
	BackendBadger    = "badger"
	BackendCouchbase = "couchbase"
	BackendMySQL     = "mysql"
	BackendMemory    = "memory"
)

// dotEnvFiles are tried in order; missing files are ignored
var dotEnvFiles = []string{"../.env", ".env"}

// Config is the resolved service configuration
type Config struct {
	ConfigFile string `arg:"--config,env:ESISTATUS_CONFIG" yaml:"-" help:"YAML configuration file"`

	ESIBaseURL       string        `arg:"--esi-base-url,env:ESISTATUS_ESI_BASE_URL" yaml:"esi_base_url" validate:"required,url"`
	HTTPTimeout      time.Duration `arg:"--http-timeout,env:ESISTATUS_HTTP_TIMEOUT" yaml:"http_timeout" validate:"gt=0"`
	UserAgentProduct string        `arg:"--user-agent-product,env:ESISTATUS_USER_AGENT_PRODUCT" yaml:"user_agent_product" validate:"required"`
	UserAgentVersion string        `arg:"--user-agent-version,env:ESISTATUS_USER_AGENT_VERSION" yaml:"user_agent_version" validate:"required"`
	RepoURL          string        `arg:"--repo-url,env:ESISTATUS_REPO_URL" yaml:"repo_url" validate:"required,url"`

	Interval            time.Duration `arg:"--interval,env:ESISTATUS_INTERVAL" yaml:"interval" validate:"gt=0" help:"time between pipeline runs"`
	HealthStates        string        `arg:"--health-states,env:ESISTATUS_HEALTH_STATES" yaml:"health_states" help:"five-state, three-state or a comma separated list"`
	Enrichment          string        `arg:"--enrichment,env:ESISTATUS_ENRICHMENT" yaml:"enrichment" validate:"oneof=extended bare"`
	CacheStatusDocument bool          `arg:"--cache-status-document,env:ESISTATUS_CACHE_STATUS_DOCUMENT" yaml:"cache_status_document"`

	CacheBackend    string `arg:"--cache-backend,env:ESISTATUS_CACHE_BACKEND" yaml:"cache_backend" validate:"oneof=badger couchbase"`
	BadgerPath      string `arg:"--badger-path,env:ESISTATUS_BADGER_PATH" yaml:"badger_path" help:"on-disk cache directory; in memory when empty"`
	SnapshotBackend string `arg:"--snapshot-backend,env:ESISTATUS_SNAPSHOT_BACKEND" yaml:"snapshot_backend" validate:"oneof=couchbase mysql memory"`

	CouchbaseURL      string        `arg:"--couchbase-url,env:COUCHBASE_URL" yaml:"couchbase_url"`
	CouchbaseUsername string        `arg:"--couchbase-username,env:COUCHBASE_USERNAME" yaml:"couchbase_username"`
	CouchbasePassword string        `arg:"--couchbase-password,env:COUCHBASE_PASSWORD" yaml:"couchbase_password"`
	CouchbaseBucket   string        `arg:"--couchbase-bucket,env:COUCHBASE_BUCKET" yaml:"couchbase_bucket"`
	LeaseTTL          time.Duration `arg:"--lease-ttl,env:ESISTATUS_LEASE_TTL" yaml:"lease_ttl" validate:"gt=0"`

	MySQLHost     string `arg:"--mysql-host,env:MYSQL_HOST" yaml:"mysql_host"`
	MySQLPort     int    `arg:"--mysql-port,env:MYSQL_PORT" yaml:"mysql_port" validate:"min=1,max=65535"`
	MySQLUser     string `arg:"--mysql-user,env:MYSQL_USER" yaml:"mysql_user"`
	MySQLPassword string `arg:"--mysql-password,env:MYSQL_PASSWORD" yaml:"mysql_password"`
	MySQLDatabase string `arg:"--mysql-database,env:MYSQL_DATABASE" yaml:"mysql_database"`

	APIPort          int    `arg:"--api-port,env:API_PORT" yaml:"api_port" validate:"min=1,max=65535"`
	ElasticsearchURL string `arg:"--elasticsearch-url,env:ELASTICSEARCH_URL" yaml:"elasticsearch_url" validate:"omitempty,url"`
	LogLevel         string `arg:"--log-level,env:ESISTATUS_LOG_LEVEL" yaml:"log_level" validate:"oneof=trace debug info warn error"`
	BusinessMetrics  bool   `arg:"--business-metrics,env:ENABLE_BUSINESS_METRICS" yaml:"business_metrics"`
	SystemMetrics    bool   `arg:"--system-metrics,env:ENABLE_SYSTEM_METRICS" yaml:"system_metrics"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		ESIBaseURL:       "https://esi.evetech.net",
		HTTPTimeout:      10 * time.Second,
		UserAgentProduct: "esistatus",
		UserAgentVersion: "dev",
		RepoURL:          "https://stealthcompany.com/esistatus",

		Interval:     5 * time.Minute,
		HealthStates: health.FiveStateName,
		Enrichment:   string(enrich.Extended),

		CacheBackend:    BackendBadger,
		SnapshotBackend: BackendCouchbase,

		CouchbaseBucket: "esistatus",
		LeaseTTL:        5 * time.Minute,

		MySQLHost:     "localhost",
		MySQLPort:     3306,
		MySQLDatabase: "esistatus",

		APIPort:         8080,
		LogLevel:        "info",
		BusinessMetrics: true,
	}
}

// Load resolves the configuration from args (without the program name)
func Load(args []string) (Config, error) {
	loadDotEnv()

	cfg := Default()
	if err := parseArgs(&cfg, args); err != nil {
		return Config{}, err
	}

	if cfg.ConfigFile != "" {
		path := cfg.ConfigFile

		cfg = Default()
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}

		// Environment and flags still win over the file
		if err := parseArgs(&cfg, args); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv() {
	for _, file := range dotEnvFiles {
		if err := godotenv.Load(file); err == nil {
			log.Debug().Str("file", file).Msg("Loaded .env file")
			return
		}
	}
	log.Debug().Msg("No .env file found, assuming environment variables are set")
}

func parseArgs(cfg *Config, args []string) error {
	p, err := arg.NewParser(arg.Config{Program: "esistatus"}, cfg)
	if err != nil {
		return fmt.Errorf("failed to build argument parser: %w", err)
	}

	err = p.Parse(args)
	if errors.Is(err, arg.ErrHelp) {
		p.WriteHelp(os.Stdout)
	}
	return err
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the settings the selected backends need
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := health.Parse(c.HealthStates); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.UsesCouchbase() {
		var missing []string
		if c.CouchbaseURL == "" {
			missing = append(missing, "couchbase_url")
		}
		if c.CouchbaseBucket == "" {
			missing = append(missing, "couchbase_bucket")
		}
		if len(missing) > 0 {
			return fmt.Errorf("invalid configuration: couchbase backend requires %s", strings.Join(missing, ", "))
		}
	}

	if c.SnapshotBackend == BackendMySQL && (c.MySQLHost == "" || c.MySQLDatabase == "") {
		return errors.New("invalid configuration: mysql backend requires mysql_host and mysql_database")
	}

	return nil
}

// UsesCouchbase reports whether any backend needs a Couchbase connection
func (c Config) UsesCouchbase() bool {
	return c.CacheBackend == BackendCouchbase || c.SnapshotBackend == BackendCouchbase
}

// StateSet returns the configured health-state literals
func (c Config) StateSet() health.StateSet {
	states, err := health.Parse(c.HealthStates)
	if err != nil {
		return health.FiveState
	}
	return states
}

// Variant returns the configured enrichment variant
func (c Config) Variant() enrich.Variant {
	v, err := enrich.ParseVariant(c.Enrichment)
	if err != nil {
		return enrich.Extended
	}
	return v
}

// Level returns the configured zerolog level
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
