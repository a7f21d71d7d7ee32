package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/diagon-project/diagon"
)

// LifecyclePolicy defines when segments move between tiers. A max-age of -1
// means that transition never fires on age.
type LifecyclePolicy struct {
	Name string `yaml:"name"`

	Hot struct {
		// MaxAgeSeconds before moving to warm; -1 never.
		MaxAgeSeconds int64 `yaml:"max_age_seconds"`
		// MaxSizeBytes moves oversized segments to warm early.
		MaxSizeBytes int64 `yaml:"max_size_bytes"`
		// ForceMerge merges segments before the transition.
		ForceMerge bool `yaml:"force_merge"`
	} `yaml:"hot"`

	Warm struct {
		MaxAgeSeconds int64 `yaml:"max_age_seconds"`
		// MinAccessCount: colder than this and the segment moves on.
		MinAccessCount int32 `yaml:"min_access_count"`
		// Recompress with a denser codec during migration.
		Recompress bool `yaml:"recompress"`
	} `yaml:"warm"`

	Cold struct {
		MaxAgeSeconds int64 `yaml:"max_age_seconds"`
		// ReadonlyOnEntry seals the segment on arrival.
		ReadonlyOnEntry bool `yaml:"readonly_on_entry"`
	} `yaml:"cold"`

	Frozen struct {
		// MaxAgeSeconds before deletion; -1 retains indefinitely.
		MaxAgeSeconds int64 `yaml:"max_age_seconds"`
	} `yaml:"frozen"`
}

// DefaultLifecyclePolicy mirrors the standard 7/30/365-day ILM ladder.
func DefaultLifecyclePolicy() LifecyclePolicy {
	var p LifecyclePolicy
	p.Name = "default"
	p.Hot.MaxAgeSeconds = 7 * 24 * 3600
	p.Hot.MaxSizeBytes = 50 << 30
	p.Hot.ForceMerge = true
	p.Warm.MaxAgeSeconds = 30 * 24 * 3600
	p.Warm.MinAccessCount = 10
	p.Warm.Recompress = true
	p.Cold.MaxAgeSeconds = 365 * 24 * 3600
	p.Cold.ReadonlyOnEntry = true
	p.Frozen.MaxAgeSeconds = -1
	return p
}

// LoadPolicy reads a lifecycle policy from a YAML file.
func LoadPolicy(path string) (LifecyclePolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return LifecyclePolicy{}, fmt.Errorf("storage: read policy %s: %v: %w", path, err, diagon.ErrIO)
	}
	p := DefaultLifecyclePolicy()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return LifecyclePolicy{}, fmt.Errorf("storage: parse policy %s: %v: %w", path, err, diagon.ErrInvalidConfig)
	}
	return p, nil
}

// Action is a policy decision for one segment.
type Action uint8

const (
	// ActionNone leaves the segment in place.
	ActionNone Action = iota
	// ActionMigrate moves the segment to the returned tier.
	ActionMigrate
	// ActionDelete removes an expired frozen segment.
	ActionDelete
)

// Evaluate applies the transition table to one segment's state and returns
// the action and (for migrations) the target tier.
func (p *LifecyclePolicy) Evaluate(current StorageTier, ageSeconds, sizeBytes int64, accessCount int32) (Action, StorageTier) {
	ageTriggers := func(maxAge int64) bool {
		return maxAge >= 0 && ageSeconds >= maxAge
	}

	switch current {
	case TierHot:
		if ageTriggers(p.Hot.MaxAgeSeconds) || sizeBytes >= p.Hot.MaxSizeBytes {
			return ActionMigrate, TierWarm
		}
	case TierWarm:
		if ageTriggers(p.Warm.MaxAgeSeconds) || accessCount < p.Warm.MinAccessCount {
			return ActionMigrate, TierCold
		}
	case TierCold:
		if p.Cold.MaxAgeSeconds > 0 && ageSeconds >= p.Cold.MaxAgeSeconds {
			return ActionMigrate, TierFrozen
		}
	case TierFrozen:
		if p.Frozen.MaxAgeSeconds >= 0 && ageSeconds >= p.Frozen.MaxAgeSeconds {
			return ActionDelete, TierFrozen
		}
	}
	return ActionNone, current
}
