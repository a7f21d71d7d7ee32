package storage

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMigrationServiceLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	tm := NewTierManager(DefaultTierConfigs(), testPolicy())
	svc := NewTierMigrationService(tm, 5*time.Millisecond, nil)
	svc.Start()
	tm.Register("_0", 1)
	time.Sleep(20 * time.Millisecond)
	svc.Stop()
}
