package retention_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/hybridmem-go/pkg/retention"
)

func newTestScheduler(t *testing.T, bank *memoryBank) (*retention.Engine, *retention.Scheduler) {
	t.Helper()
	policy := &retention.Policy{
		MaxTotal:        1,
		CleanupInterval: 10 * time.Millisecond,
		Strategy:        retention.StrategyFIFO,
	}
	engine, err := retention.NewEngine(policy, bank.fetch, bank.delete, nil)
	require.NoError(t, err)
	return engine, retention.NewScheduler(engine, nil)
}

func TestScheduler_RunsPeriodically(t *testing.T) {
	bank := newMemoryBank(makeMemory("a", 0), makeMemory("b", 1))
	engine, scheduler := newTestScheduler(t, bank)

	scheduler.Start()
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		return engine.Stats().TotalCleanupsRun >= 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, bank.size())
	assert.Equal(t, int64(1), engine.Stats().TotalMemoriesRemoved)
}

func TestScheduler_FailedRunDoesNotStopLoop(t *testing.T) {
	bank := newMemoryBank(makeMemory("a", 0), makeMemory("b", 1))
	bank.mu.Lock()
	bank.deleteErr = errors.New("transient outage")
	bank.mu.Unlock()

	engine, scheduler := newTestScheduler(t, bank)
	scheduler.Start()
	defer scheduler.Stop()

	// Let at least one run fail, then heal the backend.
	require.Eventually(t, func() bool {
		bank.mu.Lock()
		defer bank.mu.Unlock()
		return bank.deleteCalls >= 1
	}, time.Second, 5*time.Millisecond)

	bank.mu.Lock()
	bank.deleteErr = nil
	bank.mu.Unlock()

	require.Eventually(t, func() bool {
		return engine.Stats().TotalMemoriesRemoved == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	bank := newMemoryBank()
	_, scheduler := newTestScheduler(t, bank)

	scheduler.Start()
	scheduler.Start()
	scheduler.Start()
	scheduler.Stop()
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	bank := newMemoryBank()
	_, scheduler := newTestScheduler(t, bank)

	// Stop on a never-started scheduler must not hang or panic.
	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a never-started scheduler")
	}
}

func TestScheduler_StopHaltsRuns(t *testing.T) {
	bank := newMemoryBank(makeMemory("a", 0), makeMemory("b", 1))
	_, scheduler := newTestScheduler(t, bank)

	scheduler.Start()
	require.Eventually(t, func() bool {
		bank.mu.Lock()
		defer bank.mu.Unlock()
		return bank.fetchCalls >= 1
	}, time.Second, 5*time.Millisecond)
	scheduler.Stop()

	bank.mu.Lock()
	callsAfterStop := bank.fetchCalls
	bank.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	bank.mu.Lock()
	defer bank.mu.Unlock()
	assert.Equal(t, callsAfterStop, bank.fetchCalls)
}
