package config

import (
	"fmt"
	"time"
)

// Config represents the complete configuration for the indexing engine.
type Config struct {
	// Engine configures the C1-C6 indexing core (ordering policy, batch
	// size, shadow-table namespace).
	Engine EngineConfig `yaml:"engine" json:"engine" toml:"engine"`

	// Database is the SQLite database the engine's indexed tables and
	// shadow tables both live in.
	Database DatabaseConfig `yaml:"database" json:"database" toml:"database"`

	// Maintenance configures the background VACUUM/WAL-checkpoint worker
	// guarding the engine's database. Nil runs with no maintenance worker.
	Maintenance *MaintenanceConfig `yaml:"maintenance" json:"maintenance" toml:"maintenance"`

	// Chains lists every chain the engine ingests from.
	Chains []ChainConfig `yaml:"chains" json:"chains" toml:"chains"`

	// Logging configures per-component log levels.
	Logging LoggingConfig `yaml:"logging" json:"logging" toml:"logging"`

	// Metrics configures the Prometheus metrics HTTP server. Nil disables it.
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics" toml:"metrics"`

	// API configures the read-only query HTTP server. Nil disables it.
	API *APIConfig `yaml:"api" json:"api" toml:"api"`
}

// EngineConfig configures the indexing executor.
type EngineConfig struct {
	// Ordering is "multichain" (default, per-chain FIFO) or "omnichain"
	// (globally checkpoint-sorted across chains).
	Ordering string `yaml:"ordering" json:"ordering" toml:"ordering"`

	// BatchSize is the number of events buffered per historical-mode flush.
	BatchSize int `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// Namespace scopes the PONDER_CHECKPOINT row and shadow-table names,
	// letting more than one engine instance share a database.
	Namespace string `yaml:"namespace" json:"namespace" toml:"namespace"`

	// Tables declares the engine's compiled schema: every table a handler
	// can write to, and the shadow-table/revert machinery must track.
	Tables []TableConfig `yaml:"tables" json:"tables" toml:"tables"`
}

// TableConfig declares one table handlers can write to.
type TableConfig struct {
	Name       string   `yaml:"name" json:"name" toml:"name"`
	Columns    []string `yaml:"columns" json:"columns" toml:"columns"`
	PrimaryKey []string `yaml:"primary_key" json:"primary_key" toml:"primary_key"`
}

// ApplyDefaults fills in EngineConfig's zero-valued fields.
func (e *EngineConfig) ApplyDefaults() {
	if e.Ordering == "" {
		e.Ordering = "multichain"
	}
	if e.BatchSize <= 0 {
		e.BatchSize = 93
	}
	if e.Namespace == "" {
		e.Namespace = "default"
	}
}

// ChainConfig is one chain the engine ingests events from.
type ChainConfig struct {
	ChainID uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`
	Name    string `yaml:"name" json:"name" toml:"name"`
	RPCURL  string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// FinalityDepth overrides the built-in default-by-chain-ID table. 0
	// means "use the default for this chain ID".
	FinalityDepth uint64 `yaml:"finality_depth" json:"finality_depth" toml:"finality_depth"`

	Retry *RetryConfig `yaml:"retry" json:"retry" toml:"retry"`

	// Sources declares which contracts, accounts, and block intervals on
	// this chain are turned into events.
	Sources []SourceConfig `yaml:"sources" json:"sources" toml:"sources"`
}

// SourceConfig declares one event source: a contract's logs, an account's
// balance changes, or a fixed block interval. Kind selects which of the
// remaining fields apply.
type SourceConfig struct {
	Kind string `yaml:"kind" json:"kind" toml:"kind"` // "contract", "account", or "block"
	Name string `yaml:"name" json:"name" toml:"name"`

	// Contract fields.
	Address string   `yaml:"address" json:"address" toml:"address"`
	Topics  []string `yaml:"topics" json:"topics" toml:"topics"`
	Factory bool     `yaml:"factory" json:"factory" toml:"factory"`

	// Account fields.
	Account string `yaml:"account" json:"account" toml:"account"`

	// Block fields.
	Interval uint64 `yaml:"interval" json:"interval" toml:"interval"`
}

// RetryConfig configures exponential-backoff retry for RPC calls.
type RetryConfig struct {
	MaxAttempts       int      `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`
	InitialBackoff    Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff        Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults fills in RetryConfig's zero-valued fields.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration <= 0 {
		r.InitialBackoff = Duration{200 * time.Millisecond}
	}
	if r.MaxBackoff.Duration <= 0 {
		r.MaxBackoff = Duration{30 * time.Second}
	}
	if r.BackoffMultiplier <= 0 {
		r.BackoffMultiplier = 2.0
	}
}

// MaintenanceConfig configures the background VACUUM/WAL-checkpoint worker.
type MaintenanceConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	CheckInterval     Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`
	VacuumOnStartup   bool     `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`
	WALCheckpointMode string   `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults fills in MaintenanceConfig's zero-valued fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration <= 0 {
		m.CheckInterval = Duration{1 * time.Hour}
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "PASSIVE"
	}
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults fills in MetricsConfig's zero-valued fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// CORSConfig configures cross-origin access to the API server.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// APIConfig configures the read-only query HTTP server.
type APIConfig struct {
	Enabled       bool       `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string     `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	ReadTimeout   Duration   `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout  Duration   `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	IdleTimeout   Duration   `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`
	CORS          CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// ApplyDefaults fills in APIConfig's zero-valued fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration <= 0 {
		a.ReadTimeout = Duration{10 * time.Second}
	}
	if a.WriteTimeout.Duration <= 0 {
		a.WriteTimeout = Duration{10 * time.Second}
	}
	if a.IdleTimeout.Duration <= 0 {
		a.IdleTimeout = Duration{60 * time.Second}
	}
}

// LoggingConfig configures per-component log levels and satisfies
// internal/logger.LoggingConfig.
type LoggingConfig struct {
	DefaultLevel    string            `yaml:"default_level" json:"default_level" toml:"default_level"`
	Development     bool              `yaml:"development" json:"development" toml:"development"`
	ComponentLevels map[string]string `yaml:"component_levels" json:"component_levels" toml:"component_levels"`
}

// GetComponentLevel returns component's configured level, or the empty
// string if it has no override.
func (l LoggingConfig) GetComponentLevel(component string) string {
	return l.ComponentLevels[component]
}

// GetDefaultLevel returns the fallback level for components with no
// per-component override.
func (l LoggingConfig) GetDefaultLevel() string {
	if l.DefaultLevel == "" {
		return "info"
	}
	return l.DefaultLevel
}

// IsDevelopment reports whether loggers should use development encoding.
func (l LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	// NORMAL provides a good balance between safety and performance
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Engine.ApplyDefaults()
	c.Database.ApplyDefaults()
	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
	for i := range c.Chains {
		if c.Chains[i].Retry != nil {
			c.Chains[i].Retry.ApplyDefaults()
		}
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.API != nil {
		c.API.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Engine.Ordering != "" && c.Engine.Ordering != "multichain" && c.Engine.Ordering != "omnichain" {
		return fmt.Errorf("engine.ordering must be one of: multichain, omnichain")
	}

	for i, t := range c.Engine.Tables {
		if t.Name == "" {
			return fmt.Errorf("engine.tables[%d]: name is required", i)
		}
		if len(t.PrimaryKey) == 0 {
			return fmt.Errorf("engine.tables[%d] (%s): primary_key is required", i, t.Name)
		}
	}

	for i, chain := range c.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chains[%d]: chain_id is required", i)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("chains[%d] (%s): rpc_url is required", i, chain.Name)
		}
	}

	return nil
}
