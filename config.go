package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viant/afs"
	"github.com/viant/gatekeeper/service/expiry"
	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreFS       = "fs"
)

// Config is a serialisable representation of the service configuration.
// The zero-value of a section inherits the defaults from DefaultConfig when
// loaded with LoadConfig.
type Config struct {
	Store    StoreConfig    `json:"store" yaml:"store"`
	Retry    RetryConfig    `json:"retry" yaml:"retry"`
	Sweeper  SweeperConfig  `json:"sweeper" yaml:"sweeper"`
	Criteria CriteriaConfig `json:"criteria" yaml:"criteria"`
	Notify   NotifyConfig   `json:"notify" yaml:"notify"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

type StoreConfig struct {
	Kind string `json:"kind" yaml:"kind"`
	// DSN of the postgres database
	DSN   string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Table string `json:"table,omitempty" yaml:"table,omitempty"`
	// BaseURL of the fs store, any viant/afs supported location
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	// EnsureSchema creates the postgres table when missing
	EnsureSchema bool `json:"ensureSchema,omitempty" yaml:"ensureSchema,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int           `json:"maxAttempts" yaml:"maxAttempts"`
	Delay       time.Duration `json:"delay" yaml:"delay"`
}

type SweeperConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Jitter   time.Duration `json:"jitter" yaml:"jitter"`
}

type CriteriaConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	// DetailKey registers criteria.DetailEvaluator for every non manual type
	DetailKey string `json:"detailKey,omitempty" yaml:"detailKey,omitempty"`
}

type NotifyConfig struct {
	// Expiry notifies the orchestrator about expired instances
	Expiry      bool          `json:"expiry" yaml:"expiry"`
	QueueBuffer int           `json:"queueBuffer" yaml:"queueBuffer"`
	MaxRetries  int           `json:"maxRetries" yaml:"maxRetries"`
	RetryDelay  time.Duration `json:"retryDelay" yaml:"retryDelay"`
}

type MetricsConfig struct {
	// Address of the prometheus endpoint, empty disables it
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
	OutputFile  string `json:"outputFile,omitempty" yaml:"outputFile,omitempty"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	// Format is either json or console
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	sweeper := expiry.DefaultConfig()
	return &Config{
		Store: StoreConfig{Kind: StoreMemory},
		Retry: RetryConfig{MaxAttempts: 3, Delay: time.Second},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Interval: sweeper.Interval,
			Jitter:   sweeper.Jitter,
		},
		Criteria: CriteriaConfig{Interval: 30 * time.Second},
		Notify: NotifyConfig{
			Expiry:      true,
			QueueBuffer: 100,
			MaxRetries:  3,
			RetryDelay:  100 * time.Millisecond,
		},
		Tracing: TracingConfig{ServiceName: "gatekeeper"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	switch c.Store.Kind {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for %v store", StorePostgres))
		}
	case StoreFS:
		if c.Store.BaseURL == "" {
			errs = append(errs, fmt.Errorf("store.baseURL is required for %v store", StoreFS))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.kind: %q", c.Store.Kind))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry.maxAttempts must be > 0"))
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, fmt.Errorf("retry.delay must be >= 0"))
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sweeper.interval must be > 0"))
	}
	if c.Sweeper.Jitter < 0 {
		errs = append(errs, fmt.Errorf("sweeper.jitter must be >= 0"))
	}
	if c.Criteria.Enabled && c.Criteria.Interval <= 0 {
		errs = append(errs, fmt.Errorf("criteria.interval must be > 0"))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unsupported log.format: %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LoadConfig reads a YAML (or JSON) config from any afs supported URL on top
// of DefaultConfig.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %v: %w", URL, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML (or JSON) on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (*Config, error) {
	ret := DefaultConfig()
	if err := yaml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}
