// Package storage tracks segment lifecycle across storage tiers: per-segment
// metadata, a lifecycle policy deciding when segments move, and a background
// migration service that applies the policy on an interval.
package storage

import (
	"fmt"

	"github.com/diagon-project/diagon"
)

// StorageTier is a segment's storage class.
type StorageTier uint8

const (
	// TierHot is fast storage for recent, frequently-queried data.
	TierHot StorageTier = iota
	// TierWarm is standard storage for data past its write window.
	TierWarm
	// TierCold is cheap storage for rarely-queried data.
	TierCold
	// TierFrozen is terminal archive storage.
	TierFrozen
)

func (t StorageTier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	case TierFrozen:
		return "frozen"
	}
	return "unknown"
}

// ParseTier parses a tier name.
func ParseTier(s string) (StorageTier, error) {
	switch s {
	case "hot":
		return TierHot, nil
	case "warm":
		return TierWarm, nil
	case "cold":
		return TierCold, nil
	case "frozen":
		return TierFrozen, nil
	}
	return TierHot, fmt.Errorf("storage: unknown tier %q: %w", s, diagon.ErrInvalidConfig)
}

// TierConfig is the per-tier runtime configuration.
type TierConfig struct {
	Tier StorageTier `yaml:"tier"`

	// BasePath is where this tier's segments live.
	BasePath string `yaml:"base_path"`

	// MaxCacheBytes bounds this tier's cache budget.
	MaxCacheBytes int64 `yaml:"max_cache_bytes"`

	// UseMMap selects memory-mapped inputs for this tier.
	UseMMap bool `yaml:"use_mmap"`

	// Searchable tiers participate in queries by default.
	Searchable bool `yaml:"searchable"`

	// Writable tiers accept new segments (HOT only, normally).
	Writable bool `yaml:"writable"`

	// CompressionCodec names the codec segments migrate onto.
	CompressionCodec string `yaml:"compression_codec"`
}

// DefaultTierConfigs returns the standard four-tier setup.
func DefaultTierConfigs() map[StorageTier]TierConfig {
	return map[StorageTier]TierConfig{
		TierHot: {
			Tier: TierHot, MaxCacheBytes: 16 << 30, UseMMap: true,
			Searchable: true, Writable: true, CompressionCodec: "LZ4",
		},
		TierWarm: {
			Tier: TierWarm, MaxCacheBytes: 4 << 30, UseMMap: true,
			Searchable: true, CompressionCodec: "ZSTD",
		},
		TierCold: {
			Tier: TierCold, MaxCacheBytes: 512 << 20,
			Searchable: false, CompressionCodec: "ZSTD",
		},
		TierFrozen: {
			Tier: TierFrozen, MaxCacheBytes: 64 << 20,
			Searchable: false, CompressionCodec: "ZSTD",
		},
	}
}
