package engine

import "github.com/ordinalworks/chainweave/internal/merge"

// DefaultBatchSize is the historical-mode batch size used when Config
// doesn't override it (SPEC_FULL.md §4.6).
const DefaultBatchSize = 93

// Config configures one Engine run.
type Config struct {
	Policy    merge.Policy
	BatchSize int
	Namespace string
}

// ApplyDefaults fills in zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Namespace == "" {
		c.Namespace = "default"
	}
}

func (c Config) orderingLabel() string {
	if c.Policy == merge.Omnichain {
		return "omnichain"
	}
	return "multichain"
}
