package retention

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler triggers cleanup runs on an Engine at the policy's interval.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler around engine. A nil logger gets a
// default logrus logger.
func NewScheduler(engine *Engine, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engine:   engine,
		interval: engine.Policy().CleanupInterval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the background cleanup loop. Calling Start on a running
// scheduler has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.loop()
	s.logger.WithField("interval", s.interval).Info("Retention scheduler started")
}

// Stop cancels the cleanup loop and waits for it to exit. A stopped
// scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			// One failed run must not stop the ones after it.
			if _, err := s.engine.ExecuteCleanup(s.ctx); err != nil {
				s.logger.WithError(err).Warn("Scheduled cleanup failed")
			}
		}
	}
}
