// Package config loads the State Root's options (spec.md §6) from YAML via
// viper, alongside functional-option constructors that are the primary way
// callers build a peafowl.StateRoot in code.
//
// Scaled down from firestige-Otus/internal/config/config.go's nested
// capture-agent.* tree (Kafka, reporters, backpressure, task persistence —
// none of it relevant here) to this module's flat option set; the
// viper.New/SetDefault/ReadInConfig/Unmarshal sequence is kept as-is.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/qingchen1984/peafowl/l7"
)

// DefragConfig mirrors spec.md §6's `ipv4_defrag`/`ipv6_defrag` option
// shape: off, or on with the four reassembly engine limits.
type DefragConfig struct {
	Enabled       bool  `mapstructure:"enabled"`
	TableSize     int   `mapstructure:"table_size"`
	PerHostLimit  int64 `mapstructure:"per_host_limit"`
	TotalLimit    int64 `mapstructure:"total_limit"`
	TimeoutS      int64 `mapstructure:"timeout_s"`
}

// PoolConfig mirrors spec.md §5's optional per-partition memory pool:
// Enabled off means every flow's Pool is nil and allocations fall back to
// the heap; on, each partition gets its own mempool.BufferPool sized from
// ChunkSizeBytes/MaxPoolSizeBytes, never shared across partitions.
type PoolConfig struct {
	Enabled          bool  `mapstructure:"enabled"`
	ChunkSizeBytes   int64 `mapstructure:"chunk_size_bytes"`
	MaxPoolSizeBytes int64 `mapstructure:"max_pool_size_bytes"`
}

// Config is the State Root's full option set, loadable from YAML or built
// up via the With* functional options below.
type Config struct {
	ExpectedFlows  int             `mapstructure:"expected_flows"`
	Strict         bool            `mapstructure:"strict"`
	Partitions     int             `mapstructure:"partitions"`
	MaxTrials      int             `mapstructure:"max_trials"`
	TCPReordering  bool            `mapstructure:"tcp_reordering"`
	IPv4Defrag     DefragConfig    `mapstructure:"ipv4_defrag"`
	IPv6Defrag     DefragConfig    `mapstructure:"ipv6_defrag"`
	Pools          PoolConfig      `mapstructure:"pools"`
	L7Enabled      []string        `mapstructure:"l7_enabled"`
	L7SkipPorts    map[int]string  `mapstructure:"l7_skip_ports"`
	Accuracy       map[string]string `mapstructure:"accuracy"`
	Fields         map[string]bool `mapstructure:"fields"`
	LogLevel       string          `mapstructure:"log_level"`
}

// Default returns the baseline configuration: every protocol enabled at
// LOW accuracy, defrag on with conservative limits, non-strict eviction.
func Default() Config {
	return Config{
		ExpectedFlows: 10000,
		Strict:        false,
		Partitions:    16,
		MaxTrials:     32,
		TCPReordering: true,
		IPv4Defrag:    DefragConfig{Enabled: true, TableSize: 1024, PerHostLimit: 1 << 20, TotalLimit: 1 << 24, TimeoutS: 30},
		IPv6Defrag:    DefragConfig{Enabled: true, TableSize: 1024, PerHostLimit: 1 << 20, TotalLimit: 1 << 24, TimeoutS: 30},
		Pools:         PoolConfig{Enabled: true, ChunkSizeBytes: 4096, MaxPoolSizeBytes: 1 << 20},
		L7Enabled:     []string{"http", "dns", "tls"},
		L7SkipPorts:   map[int]string{},
		Accuracy:      map[string]string{},
		Fields:        map[string]bool{},
		LogLevel:      "info",
	}
}

// Load reads a YAML file at path, overlaying it on Default().
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrap(err, "reading config file")
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshalling config")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("expected_flows", cfg.ExpectedFlows)
	v.SetDefault("strict", cfg.Strict)
	v.SetDefault("partitions", cfg.Partitions)
	v.SetDefault("max_trials", cfg.MaxTrials)
	v.SetDefault("tcp_reordering", cfg.TCPReordering)
	v.SetDefault("pools.enabled", cfg.Pools.Enabled)
	v.SetDefault("pools.chunk_size_bytes", cfg.Pools.ChunkSizeBytes)
	v.SetDefault("pools.max_pool_size_bytes", cfg.Pools.MaxPoolSizeBytes)
	v.SetDefault("l7_enabled", cfg.L7Enabled)
	v.SetDefault("log_level", cfg.LogLevel)
}

// Option mutates a Config under construction; the functional-option
// counterpart to YAML loading.
type Option func(*Config)

func WithExpectedFlows(n int) Option    { return func(c *Config) { c.ExpectedFlows = n } }
func WithStrict(strict bool) Option     { return func(c *Config) { c.Strict = strict } }
func WithPartitions(n int) Option       { return func(c *Config) { c.Partitions = n } }
func WithMaxTrials(n int) Option        { return func(c *Config) { c.MaxTrials = n } }
func WithTCPReordering(on bool) Option  { return func(c *Config) { c.TCPReordering = on } }
func WithIPv4Defrag(d DefragConfig) Option { return func(c *Config) { c.IPv4Defrag = d } }
func WithIPv6Defrag(d DefragConfig) Option { return func(c *Config) { c.IPv6Defrag = d } }
func WithPools(p PoolConfig) Option        { return func(c *Config) { c.Pools = p } }
func WithL7Enabled(protocols ...string) Option {
	return func(c *Config) { c.L7Enabled = protocols }
}
func WithL7SkipPort(port int, protocol string) Option {
	return func(c *Config) {
		if c.L7SkipPorts == nil {
			c.L7SkipPorts = make(map[int]string)
		}
		c.L7SkipPorts[port] = protocol
	}
}
func WithAccuracy(protocol string, accuracy l7.Accuracy) Option {
	return func(c *Config) {
		if c.Accuracy == nil {
			c.Accuracy = make(map[string]string)
		}
		if accuracy == l7.HIGH {
			c.Accuracy[protocol] = "HIGH"
		} else {
			c.Accuracy[protocol] = "LOW"
		}
	}
}
func WithLogLevel(level string) Option { return func(c *Config) { c.LogLevel = level } }

// New builds a Config starting from Default() and applying opts in order.
func New(opts ...Option) Config {
	cfg := Default()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// AccuracyFor resolves the configured accuracy level for protocol, LOW if
// unset or unrecognised.
func (c Config) AccuracyFor(protocol string) l7.Accuracy {
	if c.Accuracy[protocol] == "HIGH" {
		return l7.HIGH
	}
	return l7.LOW
}

// Validate checks the option set for the invariants spec.md §6 implies
// (e.g. at least one partition).
func (c Config) Validate() error {
	if c.Partitions < 1 {
		return fmt.Errorf("partitions must be >= 1, got %d", c.Partitions)
	}
	if c.ExpectedFlows < 1 {
		return fmt.Errorf("expected_flows must be >= 1, got %d", c.ExpectedFlows)
	}
	if c.MaxTrials < 1 {
		return fmt.Errorf("max_trials must be >= 1, got %d", c.MaxTrials)
	}
	return nil
}
