package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/diagon-project/diagon"
)

// SegmentMeta is the lifecycle metadata tracked per segment.
type SegmentMeta struct {
	Tier           StorageTier
	CreationTime   time.Time
	LastAccessTime time.Time
	AccessCount    int32
	SizeBytes      int64
}

// Migration is one pending move decided by EvaluateMigrations.
type Migration struct {
	Segment string
	Target  StorageTier
	Delete  bool
}

// Mover performs the byte movement of a migration. Implementations copy or
// recompress segment files between tier directories; the manager only flips
// metadata, and only after the mover succeeds.
type Mover interface {
	Move(segment string, from, to StorageTier) error
}

// TierManager tracks per-segment metadata and applies the lifecycle policy.
// All operations are safe for concurrent use; the metadata map is guarded
// by a single mutex and never held across byte movement.
type TierManager struct {
	configs map[StorageTier]TierConfig
	policy  LifecyclePolicy
	mover   Mover

	mu       sync.Mutex
	segments map[string]SegmentMeta

	// now is swapped in tests for deterministic aging.
	now func() time.Time
}

// ManagerOption configures a TierManager.
type ManagerOption func(*TierManager)

// WithMover installs the byte mover invoked before metadata updates.
func WithMover(m Mover) ManagerOption {
	return func(tm *TierManager) { tm.mover = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(tm *TierManager) { tm.now = now }
}

// NewTierManager creates a manager over the given tier configs and policy.
func NewTierManager(configs map[StorageTier]TierConfig, policy LifecyclePolicy, opts ...ManagerOption) *TierManager {
	tm := &TierManager{
		configs:  configs,
		policy:   policy,
		segments: make(map[string]SegmentMeta),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Register inserts a new segment at HOT.
func (tm *TierManager) Register(name string, sizeBytes int64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := tm.now()
	tm.segments[name] = SegmentMeta{
		Tier:           TierHot,
		CreationTime:   now,
		LastAccessTime: now,
		SizeBytes:      sizeBytes,
	}
}

// RecordAccess bumps the access statistics; unknown segments are a no-op.
func (tm *TierManager) RecordAccess(name string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	meta, ok := tm.segments[name]
	if !ok {
		return
	}
	meta.LastAccessTime = tm.now()
	meta.AccessCount++
	tm.segments[name] = meta
}

// SegmentTier returns the segment's current tier.
func (tm *TierManager) SegmentTier(name string) (StorageTier, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	meta, ok := tm.segments[name]
	if !ok {
		return TierHot, fmt.Errorf("storage: segment %q: %w", name, diagon.ErrNotFound)
	}
	return meta.Tier, nil
}

// AccessCount returns the segment's access count, zero if unknown.
func (tm *TierManager) AccessCount(name string) int32 {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.segments[name].AccessCount
}

// Meta returns a copy of the segment's metadata.
func (tm *TierManager) Meta(name string) (SegmentMeta, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	meta, ok := tm.segments[name]
	if !ok {
		return SegmentMeta{}, fmt.Errorf("storage: segment %q: %w", name, diagon.ErrNotFound)
	}
	return meta, nil
}

// Config returns the configuration of a tier.
func (tm *TierManager) Config(tier StorageTier) (TierConfig, error) {
	cfg, ok := tm.configs[tier]
	if !ok {
		return TierConfig{}, fmt.Errorf("storage: tier %s not configured: %w", tier, diagon.ErrInvalidConfig)
	}
	return cfg, nil
}

// Policy returns the lifecycle policy.
func (tm *TierManager) Policy() LifecyclePolicy { return tm.policy }

// EvaluateMigrations snapshots the metadata under the lock, then applies the
// policy to the snapshot and returns the pending moves.
func (tm *TierManager) EvaluateMigrations() []Migration {
	tm.mu.Lock()
	snapshot := make(map[string]SegmentMeta, len(tm.segments))
	for name, meta := range tm.segments {
		snapshot[name] = meta
	}
	now := tm.now()
	tm.mu.Unlock()

	var out []Migration
	for name, meta := range snapshot {
		age := int64(now.Sub(meta.CreationTime) / time.Second)
		action, target := tm.policy.Evaluate(meta.Tier, age, meta.SizeBytes, meta.AccessCount)
		switch action {
		case ActionMigrate:
			out = append(out, Migration{Segment: name, Target: target})
		case ActionDelete:
			out = append(out, Migration{Segment: name, Target: target, Delete: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Segment < out[j].Segment })
	return out
}

// Migrate moves a segment to the target tier. Byte movement runs through the
// mover first, outside the lock; the tier field changes only after the bytes
// are durable. Migrating to the current tier is a no-op.
func (tm *TierManager) Migrate(name string, target StorageTier) error {
	if _, ok := tm.configs[target]; !ok {
		return fmt.Errorf("storage: tier %s not configured: %w", target, diagon.ErrInvalidConfig)
	}

	tm.mu.Lock()
	meta, ok := tm.segments[name]
	tm.mu.Unlock()
	if !ok {
		return fmt.Errorf("storage: segment %q: %w", name, diagon.ErrNotFound)
	}
	if meta.Tier == target {
		return nil
	}

	if tm.mover != nil {
		if err := tm.mover.Move(name, meta.Tier, target); err != nil {
			return fmt.Errorf("storage: move %q %s -> %s: %w", name, meta.Tier, target, err)
		}
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	meta, ok = tm.segments[name]
	if !ok {
		return fmt.Errorf("storage: segment %q: %w", name, diagon.ErrNotFound)
	}
	meta.Tier = target
	tm.segments[name] = meta
	return nil
}

// Delete removes a segment's metadata.
func (tm *TierManager) Delete(name string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if _, ok := tm.segments[name]; !ok {
		return fmt.Errorf("storage: segment %q: %w", name, diagon.ErrNotFound)
	}
	delete(tm.segments, name)
	return nil
}

// SearchableTiers lists the tiers marked searchable, ascending.
func (tm *TierManager) SearchableTiers() []StorageTier {
	var out []StorageTier
	for tier, cfg := range tm.configs {
		if cfg.Searchable {
			out = append(out, tier)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SegmentsInTiers lists segments currently in any of the given tiers.
func (tm *TierManager) SegmentsInTiers(tiers []StorageTier) []string {
	want := make(map[StorageTier]bool, len(tiers))
	for _, t := range tiers {
		want[t] = true
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	var out []string
	for name, meta := range tm.segments {
		if want[meta.Tier] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// AllSegments lists every registered segment.
func (tm *TierManager) AllSegments() []string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]string, 0, len(tm.segments))
	for name := range tm.segments {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
