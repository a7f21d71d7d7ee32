package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TierMigrationService runs the lifecycle policy on an interval. Migration
// failures are logged and the segment stays in its prior tier; the worker
// never terminates on error.
type TierMigrationService struct {
	manager  *TierManager
	interval atomic.Int64 // nanoseconds
	log      *zap.Logger

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewTierMigrationService creates a stopped service. A nil logger disables
// logging.
func NewTierMigrationService(manager *TierManager, interval time.Duration, log *zap.Logger) *TierMigrationService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &TierMigrationService{manager: manager, log: log}
	s.interval.Store(int64(interval))
	return s
}

// CheckInterval returns the current evaluation interval.
func (s *TierMigrationService) CheckInterval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetCheckInterval changes the evaluation interval; it takes effect after
// the current sleep.
func (s *TierMigrationService) SetCheckInterval(d time.Duration) {
	s.interval.Store(int64(d))
}

// IsRunning reports whether the worker is active.
func (s *TierMigrationService) IsRunning() bool { return s.running.Load() }

// Start launches the background worker. Idempotent.
func (s *TierMigrationService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Swap(true) {
		return
	}
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.done)
}

// Stop signals the worker and joins it. Idempotent.
func (s *TierMigrationService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Swap(false) {
		return
	}
	close(s.done)
	s.wg.Wait()
}

// RunOnce evaluates and applies migrations a single time. The tier worker
// calls this on every tick; tests and operators call it directly.
func (s *TierMigrationService) RunOnce() {
	migrations := s.manager.EvaluateMigrations()
	for _, m := range migrations {
		if m.Delete {
			s.log.Info("deleting expired frozen segment", zap.String("segment", m.Segment))
			if err := s.manager.Delete(m.Segment); err != nil {
				s.log.Warn("delete failed", zap.String("segment", m.Segment), zap.Error(err))
			}
			continue
		}

		s.log.Info("migrating segment",
			zap.String("segment", m.Segment),
			zap.String("target", m.Target.String()))
		if err := s.manager.Migrate(m.Segment, m.Target); err != nil {
			// The segment remains in its prior tier; retried next tick.
			s.log.Warn("migration failed",
				zap.String("segment", m.Segment),
				zap.String("target", m.Target.String()),
				zap.Error(err))
		}
	}
}

func (s *TierMigrationService) run(done chan struct{}) {
	defer s.wg.Done()
	for {
		s.RunOnce()

		timer := time.NewTimer(s.CheckInterval())
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
