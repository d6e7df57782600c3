package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Backend  string      `yaml:"backend"`
	Store    StoreConfig `yaml:"store"`
	Sweep    Sweep       `yaml:"sweep"`
	LogLevel string      `yaml:"log_level"`
}

// StoreConfig represents storage-provider configuration
type StoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
	PageSize  int    `yaml:"page_size"`
}

// Sweep represents deletion-run configuration
type Sweep struct {
	Prefixes         []string `yaml:"prefixes"`
	MaxThreads       int      `yaml:"max_threads"`
	QueueSize        int      `yaml:"queue_size"`
	BulkSize         int      `yaml:"bulk_size"`
	ListRetries      int      `yaml:"list_retries"`
	ContainerRetries int      `yaml:"container_retries"`
	Verbose          bool     `yaml:"verbose"`
	MetricsAddr      string   `yaml:"metrics_addr"`
	Journal          string   `yaml:"journal"`
}

// RegisterFlags registers all run flags on the given flag set. The same set
// is used by the CLI and by Load for overrides.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("backend", "", "Storage backend (minio/s3)")
	flags.String("endpoint", "", "Storage endpoint (MinIO)")
	flags.String("access-key", "", "Access key")
	flags.String("secret-key", "", "Secret key")
	flags.String("region", "", "Region (S3)")
	flags.Bool("secure", true, "Use HTTPS")
	flags.Int("page-size", 10000, "Object listing page size")

	flags.StringSlice("prefix", nil, "Container name prefix to match (repeatable; default matches all)")
	flags.Int("max-threads", 100, "Maximum threads to use at once")
	flags.Int("queue-size", 1000, "Deletion queue capacity")
	flags.Int("bulk-size", 100, "Objects per bulk delete request (<=1 disables batching)")
	flags.Int("list-retries", 2, "Retries per object listing call")
	flags.Int("container-retries", 2, "Retries per container delete")
	flags.Bool("verbose", false, "Verbose output")
	flags.String("metrics-addr", "", "Prometheus listen address (empty disables)")
	flags.String("journal", "", "Run journal database file (empty disables)")
	flags.String("log-level", "info", "Log level (debug/info/warn/error)")
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Secure:   true,
			PageSize: 10000,
		},
		Sweep: Sweep{
			MaxThreads:       100,
			QueueSize:        1000,
			BulkSize:         100,
			ListRetries:      2,
			ContainerRetries: 2,
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("backend") {
		cfg.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("endpoint") {
		cfg.Store.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("access-key") {
		cfg.Store.AccessKey, _ = flags.GetString("access-key")
	}
	if flags.Changed("secret-key") {
		cfg.Store.SecretKey, _ = flags.GetString("secret-key")
	}
	if flags.Changed("region") {
		cfg.Store.Region, _ = flags.GetString("region")
	}
	if flags.Changed("secure") {
		cfg.Store.Secure, _ = flags.GetBool("secure")
	}
	if flags.Changed("page-size") {
		cfg.Store.PageSize, _ = flags.GetInt("page-size")
	}

	if flags.Changed("prefix") {
		cfg.Sweep.Prefixes, _ = flags.GetStringSlice("prefix")
	}
	if flags.Changed("max-threads") {
		cfg.Sweep.MaxThreads, _ = flags.GetInt("max-threads")
	}
	if flags.Changed("queue-size") {
		cfg.Sweep.QueueSize, _ = flags.GetInt("queue-size")
	}
	if flags.Changed("bulk-size") {
		cfg.Sweep.BulkSize, _ = flags.GetInt("bulk-size")
	}
	if flags.Changed("list-retries") {
		cfg.Sweep.ListRetries, _ = flags.GetInt("list-retries")
	}
	if flags.Changed("container-retries") {
		cfg.Sweep.ContainerRetries, _ = flags.GetInt("container-retries")
	}
	if flags.Changed("verbose") {
		cfg.Sweep.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("metrics-addr") {
		cfg.Sweep.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("journal") {
		cfg.Sweep.Journal, _ = flags.GetString("journal")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Backend == "" {
		return fmt.Errorf("backend is required")
	}

	if c.Sweep.MaxThreads < 1 {
		return fmt.Errorf("max_threads must be at least 1")
	}

	if c.Sweep.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1")
	}

	if c.Sweep.BulkSize < 0 {
		return fmt.Errorf("bulk_size cannot be negative")
	}

	if c.Sweep.ListRetries < 0 {
		return fmt.Errorf("list_retries cannot be negative")
	}

	if c.Sweep.ContainerRetries < 0 {
		return fmt.Errorf("container_retries cannot be negative")
	}

	if c.Store.PageSize < 1 {
		return fmt.Errorf("page_size must be positive")
	}

	return nil
}
