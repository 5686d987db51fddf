package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// FetchFunc loads every memory the policy should consider.
type FetchFunc func(ctx context.Context) ([]*storage.Memory, error)

// DeleteFunc removes the memories with the given ids and returns how many
// were actually removed.
type DeleteFunc func(ctx context.Context, ids []string) (int, error)

// Stats aggregates counters across completed cleanup runs.
type Stats struct {
	// LastCleanupTime is when the most recent run started.
	LastCleanupTime time.Time

	// TotalCleanupsRun counts completed runs.
	TotalCleanupsRun int64

	// TotalMemoriesRemoved counts memories removed across all runs.
	TotalMemoriesRemoved int64

	// AverageDuration is the mean wall-clock duration of completed runs.
	AverageDuration time.Duration
}

// Preview describes what a cleanup run would remove, without removing it.
type Preview struct {
	// CandidateIDs lists the memories the current policy would evict,
	// in eviction order.
	CandidateIDs []string

	// Count is len(CandidateIDs).
	Count int

	// Passes shows which selection pass flagged the candidates.
	Passes Breakdown

	// EstimatedBytes approximates the space a run would reclaim, assuming
	// two bytes per stored character.
	EstimatedBytes int64
}

// Engine applies a retention policy against a memory backend.
//
// The backend is reached through fetch and delete functions rather than the
// storage interface so the engine stays usable against any source of
// memories. Concurrent ExecuteCleanup calls coalesce into a single run whose
// result is shared, which keeps a manual trigger from racing the scheduler.
type Engine struct {
	policy *Policy
	fetch  FetchFunc
	remove DeleteFunc
	logger *logrus.Logger
	node   *snowflake.Node

	group singleflight.Group

	mu            sync.Mutex
	stats         Stats
	totalDuration time.Duration
}

// NewEngine creates a cleanup engine for the given policy and backend
// functions. A nil policy means DefaultPolicy; a nil logger gets a default
// logrus logger.
func NewEngine(policy *Policy, fetch FetchFunc, remove DeleteFunc, logger *logrus.Logger) (*Engine, error) {
	if fetch == nil || remove == nil {
		return nil, errors.New("retention: fetch and delete functions are required")
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("retention: create run id node: %w", err)
	}

	return &Engine{
		policy: policy.withDefaults(),
		fetch:  fetch,
		remove: remove,
		logger: logger,
		node:   node,
	}, nil
}

// Policy returns a copy of the engine's effective policy.
func (e *Engine) Policy() Policy {
	return *e.policy
}

// ExecuteCleanup selects eviction candidates under the policy and deletes
// them, returning how many memories were removed. Calls that overlap an
// in-flight run share that run's result instead of starting another.
func (e *Engine) ExecuteCleanup(ctx context.Context) (int, error) {
	v, err, _ := e.group.Do("cleanup", func() (interface{}, error) {
		return e.runCleanup(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (e *Engine) runCleanup(ctx context.Context) (int, error) {
	start := time.Now()
	log := e.logger.WithFields(logrus.Fields{
		"run_id":   e.node.Generate().String(),
		"strategy": e.policy.Strategy,
	})

	memories, err := e.fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup fetch: %w", err)
	}

	candidates, _ := SelectCandidates(memories, e.policy, start)

	removed := 0
	if len(candidates) > 0 {
		ids := make([]string, len(candidates))
		for i, m := range candidates {
			ids[i] = m.ID
		}
		removed, err = e.remove(ctx, ids)
		if err != nil {
			return 0, fmt.Errorf("cleanup delete: %w", err)
		}
	}

	duration := time.Since(start)
	e.recordRun(start, removed, duration)
	log.WithFields(logrus.Fields{
		"scanned":  len(memories),
		"removed":  removed,
		"duration": duration,
	}).Info("Cleanup run completed")

	return removed, nil
}

// PreviewCleanup computes the candidate set a run would evict right now,
// without deleting anything.
func (e *Engine) PreviewCleanup(ctx context.Context) (*Preview, error) {
	memories, err := e.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleanup preview fetch: %w", err)
	}

	candidates, passes := SelectCandidates(memories, e.policy, time.Now())

	ids := make([]string, len(candidates))
	var contentChars int64
	for i, m := range candidates {
		ids[i] = m.ID
		contentChars += int64(len(m.Content))
	}

	var estimated int64
	if len(candidates) > 0 {
		average := contentChars / int64(len(candidates))
		estimated = int64(len(candidates)) * average * 2
	}

	return &Preview{
		CandidateIDs:   ids,
		Count:          len(candidates),
		Passes:         passes,
		EstimatedBytes: estimated,
	}, nil
}

// Stats returns a snapshot of the engine's run counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) recordRun(start time.Time, removed int, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.LastCleanupTime = start
	e.stats.TotalCleanupsRun++
	e.stats.TotalMemoriesRemoved += int64(removed)
	e.totalDuration += duration
	e.stats.AverageDuration = e.totalDuration / time.Duration(e.stats.TotalCleanupsRun)
}
