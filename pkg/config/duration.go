package config

import "github.com/ordinalworks/chainweave/internal/common"

// Duration is config's human-readable duration type, re-exported from
// internal/common so every layer of configuration (engine, chain, API,
// maintenance) shares one marshaling implementation.
type Duration = common.Duration
