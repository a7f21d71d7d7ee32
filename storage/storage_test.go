package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/diagon-project/diagon"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testPolicy() LifecyclePolicy {
	p := DefaultLifecyclePolicy()
	p.Hot.MaxAgeSeconds = 100
	p.Hot.MaxSizeBytes = 1 << 20
	p.Warm.MaxAgeSeconds = 1000
	p.Warm.MinAccessCount = 5
	p.Cold.MaxAgeSeconds = 10000
	p.Frozen.MaxAgeSeconds = -1
	return p
}

func TestPolicyTransitionTable(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name       string
		tier       StorageTier
		age        int64
		size       int64
		access     int32
		wantAction Action
		wantTarget StorageTier
	}{
		{"hot young small", TierHot, 99, 100, 0, ActionNone, TierHot},
		{"hot aged", TierHot, 100, 100, 0, ActionMigrate, TierWarm},
		{"hot oversized", TierHot, 0, 1 << 20, 0, ActionMigrate, TierWarm},
		{"warm young accessed", TierWarm, 999, 0, 5, ActionNone, TierWarm},
		{"warm aged", TierWarm, 1000, 0, 100, ActionMigrate, TierCold},
		{"warm unaccessed", TierWarm, 0, 0, 4, ActionMigrate, TierCold},
		{"cold young", TierCold, 9999, 0, 0, ActionNone, TierCold},
		{"cold aged", TierCold, 10000, 0, 0, ActionMigrate, TierFrozen},
		{"frozen terminal", TierFrozen, 1 << 40, 0, 0, ActionNone, TierFrozen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, target := p.Evaluate(tt.tier, tt.age, tt.size, tt.access)
			if action != tt.wantAction || (action == ActionMigrate && target != tt.wantTarget) {
				t.Fatalf("Evaluate = (%v,%v), want (%v,%v)", action, target, tt.wantAction, tt.wantTarget)
			}
		})
	}

	// Negative max-age disables age-based transitions.
	never := testPolicy()
	never.Hot.MaxAgeSeconds = -1
	if action, _ := never.Evaluate(TierHot, 1<<40, 0, 0); action != ActionNone {
		t.Fatal("max_age=-1 still fired")
	}

	// Frozen with a retention window deletes.
	expiring := testPolicy()
	expiring.Frozen.MaxAgeSeconds = 50
	if action, _ := expiring.Evaluate(TierFrozen, 50, 0, 0); action != ActionDelete {
		t.Fatal("expired frozen segment not deleted")
	}
}

func TestRegisterStartsHot(t *testing.T) {
	clock := newFakeClock()
	tm := NewTierManager(DefaultTierConfigs(), testPolicy(), WithClock(clock.Now))

	tm.Register("_0", 4096)
	tier, err := tm.SegmentTier("_0")
	if err != nil {
		t.Fatal(err)
	}
	if tier != TierHot {
		t.Fatalf("tier = %v, want hot", tier)
	}

	if _, err := tm.SegmentTier("_missing"); !errors.Is(err, diagon.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvaluateMigrationsByAge(t *testing.T) {
	clock := newFakeClock()
	tm := NewTierManager(DefaultTierConfigs(), testPolicy(), WithClock(clock.Now))

	tm.Register("_0", 4096)
	if got := tm.EvaluateMigrations(); len(got) != 0 {
		t.Fatalf("fresh segment scheduled: %+v", got)
	}

	clock.Advance(101 * time.Second)
	got := tm.EvaluateMigrations()
	if len(got) != 1 || got[0].Segment != "_0" || got[0].Target != TierWarm {
		t.Fatalf("migrations = %+v, want _0 -> warm", got)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	tm := NewTierManager(DefaultTierConfigs(), testPolicy())
	tm.Register("_0", 1)

	if err := tm.Migrate("_0", TierWarm); err != nil {
		t.Fatal(err)
	}
	if err := tm.Migrate("_0", TierWarm); err != nil {
		t.Fatal(err)
	}
	tier, _ := tm.SegmentTier("_0")
	if tier != TierWarm {
		t.Fatalf("tier = %v", tier)
	}

	if err := tm.Migrate("_missing", TierWarm); !errors.Is(err, diagon.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type failingMover struct{ calls int }

func (m *failingMover) Move(string, StorageTier, StorageTier) error {
	m.calls++
	return fmt.Errorf("mover: %w", diagon.ErrIO)
}

func TestFailedMoveLeavesMetadataIntact(t *testing.T) {
	mover := &failingMover{}
	tm := NewTierManager(DefaultTierConfigs(), testPolicy(), WithMover(mover))
	tm.Register("_0", 1)

	if err := tm.Migrate("_0", TierWarm); !errors.Is(err, diagon.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if mover.calls != 1 {
		t.Fatalf("mover calls = %d", mover.calls)
	}
	tier, _ := tm.SegmentTier("_0")
	if tier != TierHot {
		t.Fatalf("tier changed despite failed move: %v", tier)
	}
}

func TestConcurrentRecordAccess(t *testing.T) {
	tm := NewTierManager(DefaultTierConfigs(), testPolicy())
	tm.Register("_0", 1)

	const goroutines = 16
	const perGoroutine = 500
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				tm.RecordAccess("_0")
			}
		}()
	}
	wg.Wait()

	if got := tm.AccessCount("_0"); got != goroutines*perGoroutine {
		t.Fatalf("access count = %d, want %d", got, goroutines*perGoroutine)
	}

	// Unknown segment is a silent no-op.
	tm.RecordAccess("_missing")
}

func TestTierQueries(t *testing.T) {
	tm := NewTierManager(DefaultTierConfigs(), testPolicy())
	tm.Register("_0", 1)
	tm.Register("_1", 1)
	if err := tm.Migrate("_1", TierCold); err != nil {
		t.Fatal(err)
	}

	searchable := tm.SearchableTiers()
	if len(searchable) != 2 || searchable[0] != TierHot || searchable[1] != TierWarm {
		t.Fatalf("searchable = %v", searchable)
	}

	hot := tm.SegmentsInTiers([]StorageTier{TierHot})
	if len(hot) != 1 || hot[0] != "_0" {
		t.Fatalf("hot segments = %v", hot)
	}
	all := tm.AllSegments()
	if len(all) != 2 {
		t.Fatalf("all = %v", all)
	}
}

func TestMigrationServiceAppliesByAge(t *testing.T) {
	clock := newFakeClock()
	tm := NewTierManager(DefaultTierConfigs(), testPolicy(), WithClock(clock.Now))
	svc := NewTierMigrationService(tm, time.Hour, nil)

	tm.Register("_0", 1)
	clock.Advance(101 * time.Second)

	// Deterministic: drive one evaluation directly rather than sleeping.
	svc.RunOnce()

	tier, err := tm.SegmentTier("_0")
	if err != nil {
		t.Fatal(err)
	}
	if tier != TierWarm {
		t.Fatalf("tier = %v, want warm", tier)
	}
}

func TestMigrationServiceStartStopIdempotent(t *testing.T) {
	tm := NewTierManager(DefaultTierConfigs(), testPolicy())
	svc := NewTierMigrationService(tm, 10*time.Millisecond, nil)

	svc.Start()
	svc.Start()
	if !svc.IsRunning() {
		t.Fatal("service not running after Start")
	}

	tm.Register("_0", 1)
	time.Sleep(30 * time.Millisecond) // let at least one tick fire

	svc.Stop()
	svc.Stop()
	if svc.IsRunning() {
		t.Fatal("service running after Stop")
	}

	// Restart works.
	svc.Start()
	svc.Stop()
}

func TestLoadPolicyYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	doc := `
name: fast-rollover
hot:
  max_age_seconds: 60
  max_size_bytes: 1048576
warm:
  max_age_seconds: 600
  min_access_count: 2
cold:
  max_age_seconds: -1
frozen:
  max_age_seconds: -1
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "fast-rollover" || p.Hot.MaxAgeSeconds != 60 || p.Warm.MinAccessCount != 2 {
		t.Fatalf("policy = %+v", p)
	}
	if p.Cold.MaxAgeSeconds != -1 {
		t.Fatalf("cold max age = %d", p.Cold.MaxAgeSeconds)
	}

	if _, err := LoadPolicy(filepath.Join(dir, "missing.yaml")); !errors.Is(err, diagon.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}
