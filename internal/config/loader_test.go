package config

import (
	"testing"

	"github.com/ordinalworks/chainweave/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFromYAML("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	validateConfig(t, cfg, "YAML")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}

	validateConfig(t, cfg, "JSON")
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := LoadFromTOML("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to load TOML config: %v", err)
	}

	validateConfig(t, cfg, "TOML")
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to auto-load YAML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected YAML")
}

func TestLoadFromFile_JSON(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to auto-load JSON config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected JSON")
}

func TestLoadFromFile_TOML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to auto-load TOML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected TOML")
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.Contains(t, err.Error(), "unsupported config file format")
}

// validateConfig checks that the loaded config has expected values.
func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	require.NotEmpty(t, cfg.Database.Path, "[%s] database.path should not be empty", format)
	require.NotEmpty(t, cfg.Database.JournalMode, "[%s] database.journal_mode should have default value", format)
	require.NotEmpty(t, cfg.Database.Synchronous, "[%s] database.synchronous should have default value", format)

	require.NotEmpty(t, cfg.Chains, "[%s] there should be at least one chain configured", format)
	for i, chain := range cfg.Chains {
		require.NotZero(t, chain.ChainID, "[%s] chains[%d].chain_id should not be zero", format, i)
		require.NotEmpty(t, chain.RPCURL, "[%s] chains[%d].rpc_url should not be empty", format, i)
		require.NotEmpty(t, chain.Sources, "[%s] chains[%d] should have at least one source", format, i)
	}

	require.NotEmpty(t, cfg.Engine.Tables, "[%s] engine.tables should have at least one table", format)
	require.Equal(t, "multichain", cfg.Engine.Ordering, "[%s] engine.ordering", format)
	require.NotZero(t, cfg.Engine.BatchSize, "[%s] engine.batch_size should have default applied", format)

	require.NotNil(t, cfg.API, "[%s] api config should be present", format)
	require.NotNil(t, cfg.Metrics, "[%s] metrics config should be present", format)
}

func TestConfigDefaults(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: "./test.db"},
		Chains: []config.ChainConfig{
			{ChainID: 1, Name: "ethereum", RPCURL: "https://test.com"},
		},
	}

	cfg.ApplyDefaults()

	if cfg.Engine.Ordering != "multichain" {
		t.Errorf("expected default ordering=multichain, got %s", cfg.Engine.Ordering)
	}

	if cfg.Engine.BatchSize != 93 {
		t.Errorf("expected default batch_size=93, got %d", cfg.Engine.BatchSize)
	}

	if cfg.Engine.Namespace != "default" {
		t.Errorf("expected default namespace=default, got %s", cfg.Engine.Namespace)
	}

	if cfg.Database.JournalMode != "WAL" {
		t.Errorf("expected default journal_mode=WAL, got %s", cfg.Database.JournalMode)
	}

	if cfg.Database.Synchronous != "NORMAL" {
		t.Errorf("expected default synchronous=NORMAL, got %s", cfg.Database.Synchronous)
	}

	if cfg.Database.BusyTimeout != 5000 {
		t.Errorf("expected default busy_timeout=5000, got %d", cfg.Database.BusyTimeout)
	}

	if cfg.Database.MaxOpenConnections != 25 {
		t.Errorf("expected default max_open_connections=25, got %d", cfg.Database.MaxOpenConnections)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: &config.Config{
				Database: config.DatabaseConfig{Path: "./test.db"},
				Chains: []config.ChainConfig{
					{ChainID: 1, Name: "ethereum", RPCURL: "https://test.com"},
				},
			},
			wantErr: false,
		},
		{
			name: "no chains",
			cfg: &config.Config{
				Database: config.DatabaseConfig{Path: "./test.db"},
			},
			wantErr: true,
		},
		{
			name: "missing database path",
			cfg: &config.Config{
				Chains: []config.ChainConfig{
					{ChainID: 1, Name: "ethereum", RPCURL: "https://test.com"},
				},
			},
			wantErr: true,
		},
		{
			name: "missing chain rpc_url",
			cfg: &config.Config{
				Database: config.DatabaseConfig{Path: "./test.db"},
				Chains: []config.ChainConfig{
					{ChainID: 1, Name: "ethereum"},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid ordering",
			cfg: &config.Config{
				Database: config.DatabaseConfig{Path: "./test.db"},
				Chains: []config.ChainConfig{
					{ChainID: 1, Name: "ethereum", RPCURL: "https://test.com"},
				},
				Engine: config.EngineConfig{Ordering: "bogus"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
