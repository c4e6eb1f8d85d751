package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/objstream/internal/progress"
	"github.com/ligustah/objstream/pkg/remote"
	"github.com/ligustah/objstream/pkg/transport"
)

// DefaultPath is the configuration file read when no path is given.
const DefaultPath = "~/.objstream/config.yaml"

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "OBJSTREAM_"

// Config defines configuration for the objstream CLI.
type Config struct {
	APIServer   string         `yaml:"api_server"`
	Token       string         `yaml:"token"`
	APIVersion  string         `yaml:"api_version"`
	Project     string         `yaml:"project"`
	Compression bool           `yaml:"compression"`
	Progress    bool           `yaml:"progress"`
	Transfer    TransferConfig `yaml:"transfer"`
	Retry       RetryConfig    `yaml:"retry"`
	Log         LogConfig      `yaml:"log"`
}

// TransferConfig sizes and bounds object transfers.
type TransferConfig struct {
	PartSize          int64         `yaml:"part_size"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
	ReadChunkSize     int64         `yaml:"read_chunk_size"`
	ReadConcurrency   int           `yaml:"read_concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	CloseTimeout      time.Duration `yaml:"close_timeout"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Unit     time.Duration `yaml:"unit"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		APIVersion: transport.DefaultAPIVersion,
		Transfer: TransferConfig{
			PartSize:          remote.DefaultPartSize,
			UploadConcurrency: remote.DefaultUploadConcurrency,
			ReadChunkSize:     remote.DefaultReadChunkSize,
			ReadConcurrency:   remote.DefaultReadConcurrency,
			PollInterval:      remote.DefaultPollInterval,
			CloseTimeout:      remote.DefaultCloseTimeout,
		},
		Retry: RetryConfig{
			Attempts: transport.DefaultRetries,
			Unit:     time.Second,
			Timeout:  600 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	APIServer   string             `yaml:"api_server"`
	Token       string             `yaml:"token"`
	APIVersion  string             `yaml:"api_version"`
	Project     string             `yaml:"project"`
	Compression bool               `yaml:"compression"`
	Progress    bool               `yaml:"progress"`
	Transfer    yamlTransferConfig `yaml:"transfer"`
	Retry       yamlRetryConfig    `yaml:"retry"`
	Log         LogConfig          `yaml:"log"`
}

type yamlTransferConfig struct {
	PartSize          string `yaml:"part_size"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
	ReadChunkSize     string `yaml:"read_chunk_size"`
	ReadConcurrency   int    `yaml:"read_concurrency"`
	PollInterval      string `yaml:"poll_interval"`
	CloseTimeout      string `yaml:"close_timeout"`
}

type yamlRetryConfig struct {
	Attempts *int   `yaml:"attempts"`
	Unit     string `yaml:"unit"`
	Timeout  string `yaml:"timeout"`
}

// LoadFromFile loads configuration from a YAML file. A leading ~ in path is
// expanded to the home directory.
func LoadFromFile(path string) (Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("expand config path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.APIServer != "" {
		cfg.APIServer = yc.APIServer
	}
	if yc.Token != "" {
		cfg.Token = yc.Token
	}
	if yc.APIVersion != "" {
		cfg.APIVersion = yc.APIVersion
	}
	if yc.Project != "" {
		cfg.Project = yc.Project
	}
	cfg.Compression = yc.Compression
	cfg.Progress = yc.Progress

	if err := setBytes(&cfg.Transfer.PartSize, yc.Transfer.PartSize, "transfer.part_size"); err != nil {
		return Config{}, err
	}
	if err := setBytes(&cfg.Transfer.ReadChunkSize, yc.Transfer.ReadChunkSize, "transfer.read_chunk_size"); err != nil {
		return Config{}, err
	}
	if yc.Transfer.UploadConcurrency != 0 {
		cfg.Transfer.UploadConcurrency = yc.Transfer.UploadConcurrency
	}
	if yc.Transfer.ReadConcurrency != 0 {
		cfg.Transfer.ReadConcurrency = yc.Transfer.ReadConcurrency
	}
	if err := setDuration(&cfg.Transfer.PollInterval, yc.Transfer.PollInterval, "transfer.poll_interval"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.Transfer.CloseTimeout, yc.Transfer.CloseTimeout, "transfer.close_timeout"); err != nil {
		return Config{}, err
	}

	if yc.Retry.Attempts != nil {
		cfg.Retry.Attempts = *yc.Retry.Attempts
	}
	if err := setDuration(&cfg.Retry.Unit, yc.Retry.Unit, "retry.unit"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.Retry.Timeout, yc.Retry.Timeout, "retry.timeout"); err != nil {
		return Config{}, err
	}

	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}
	if yc.Log.Format != "" {
		cfg.Log.Format = yc.Log.Format
	}

	return cfg, nil
}

func setBytes(dst *int64, v, name string) error {
	if v == "" {
		return nil
	}
	size, err := progress.ParseBytes(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = size
	return nil
}

func setDuration(dst *time.Duration, v, name string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, v, name string) error {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = n
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the OBJSTREAM_ prefix.
func (c *Config) LoadFromEnv() error {
	env := func(name string) string {
		return os.Getenv(EnvPrefix + name)
	}

	if v := env("API_SERVER"); v != "" {
		c.APIServer = v
	}
	if v := env("TOKEN"); v != "" {
		c.Token = v
	}
	if v := env("API_VERSION"); v != "" {
		c.APIVersion = v
	}
	if v := env("PROJECT"); v != "" {
		c.Project = v
	}
	if v := env("COMPRESSION"); v != "" {
		c.Compression = v == "true" || v == "1"
	}
	if v := env("PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}

	for _, err := range []error{
		setBytes(&c.Transfer.PartSize, env("PART_SIZE"), EnvPrefix+"PART_SIZE"),
		setBytes(&c.Transfer.ReadChunkSize, env("READ_CHUNK_SIZE"), EnvPrefix+"READ_CHUNK_SIZE"),
		setInt(&c.Transfer.UploadConcurrency, env("UPLOAD_CONCURRENCY"), EnvPrefix+"UPLOAD_CONCURRENCY"),
		setInt(&c.Transfer.ReadConcurrency, env("READ_CONCURRENCY"), EnvPrefix+"READ_CONCURRENCY"),
		setDuration(&c.Transfer.PollInterval, env("POLL_INTERVAL"), EnvPrefix+"POLL_INTERVAL"),
		setDuration(&c.Transfer.CloseTimeout, env("CLOSE_TIMEOUT"), EnvPrefix+"CLOSE_TIMEOUT"),
		setInt(&c.Retry.Attempts, env("RETRY_ATTEMPTS"), EnvPrefix+"RETRY_ATTEMPTS"),
		setDuration(&c.Retry.Unit, env("RETRY_UNIT"), EnvPrefix+"RETRY_UNIT"),
		setDuration(&c.Retry.Timeout, env("TIMEOUT"), EnvPrefix+"TIMEOUT"),
	} {
		if err != nil {
			return err
		}
	}

	if v := env("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.APIServer == "" {
		return errors.New("config: api_server is required")
	}
	if c.Token == "" {
		return errors.New("config: token is required")
	}
	if _, err := semver.NewVersion(c.APIVersion); err != nil {
		return fmt.Errorf("config: api_version %q: %w", c.APIVersion, err)
	}
	if c.Transfer.PartSize < remote.MinPartSize {
		return fmt.Errorf("config: part_size must be at least %s", progress.FormatBytes(remote.MinPartSize))
	}
	if c.Transfer.UploadConcurrency <= 0 {
		return errors.New("config: upload_concurrency must be positive")
	}
	if c.Transfer.ReadChunkSize <= 0 {
		return errors.New("config: read_chunk_size must be positive")
	}
	if c.Transfer.ReadConcurrency <= 0 {
		return errors.New("config: read_concurrency must be positive")
	}
	if c.Transfer.PollInterval <= 0 {
		return errors.New("config: poll_interval must be positive")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.APIServer != "" {
		c.APIServer = override.APIServer
	}
	if override.Token != "" {
		c.Token = override.Token
	}
	if override.APIVersion != "" {
		c.APIVersion = override.APIVersion
	}
	if override.Project != "" {
		c.Project = override.Project
	}
	if override.Compression {
		c.Compression = override.Compression
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Transfer.PartSize != 0 {
		c.Transfer.PartSize = override.Transfer.PartSize
	}
	if override.Transfer.UploadConcurrency != 0 {
		c.Transfer.UploadConcurrency = override.Transfer.UploadConcurrency
	}
	if override.Transfer.ReadChunkSize != 0 {
		c.Transfer.ReadChunkSize = override.Transfer.ReadChunkSize
	}
	if override.Transfer.ReadConcurrency != 0 {
		c.Transfer.ReadConcurrency = override.Transfer.ReadConcurrency
	}
	if override.Transfer.PollInterval != 0 {
		c.Transfer.PollInterval = override.Transfer.PollInterval
	}
	if override.Transfer.CloseTimeout != 0 {
		c.Transfer.CloseTimeout = override.Transfer.CloseTimeout
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Unit != 0 {
		c.Retry.Unit = override.Retry.Unit
	}
	if override.Retry.Timeout != 0 {
		c.Retry.Timeout = override.Retry.Timeout
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	return c
}

// TransportOptions translates the configuration into transport options.
func (c Config) TransportOptions(logger *zap.Logger) transport.Options {
	retries := c.Retry.Attempts
	if retries == 0 {
		retries = -1
	}
	return transport.Options{
		APIServer:   c.APIServer,
		Token:       c.Token,
		APIVersion:  c.APIVersion,
		Timeout:     c.Retry.Timeout,
		MaxRetries:  retries,
		RetryUnit:   c.Retry.Unit,
		Compression: c.Compression,
		Logger:      logger,
	}
}

// RemoteOptions translates the configuration into object handle options.
func (c Config) RemoteOptions(logger *zap.Logger) []remote.Option {
	return []remote.Option{
		remote.WithProject(c.Project),
		remote.WithPartSize(c.Transfer.PartSize),
		remote.WithUploadConcurrency(c.Transfer.UploadConcurrency),
		remote.WithReadChunkSize(c.Transfer.ReadChunkSize),
		remote.WithReadConcurrency(c.Transfer.ReadConcurrency),
		remote.WithPollInterval(c.Transfer.PollInterval),
		remote.WithCloseTimeout(c.Transfer.CloseTimeout),
		remote.WithLogger(logger),
	}
}
