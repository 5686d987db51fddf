// Package retention implements policy-driven cleanup of stored memories.
//
// A Policy describes which memories have outlived their usefulness; the
// Engine applies it against a storage backend and a Scheduler runs the
// Engine periodically.
package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// EvictionStrategy selects the ordering used when a cap forces evictions.
type EvictionStrategy string

const (
	// StrategyLRU evicts the memories touched least recently. Memories that
	// were never read fall back to their creation time.
	StrategyLRU EvictionStrategy = "lru"

	// StrategyLFU evicts the memories read least often.
	StrategyLFU EvictionStrategy = "lfu"

	// StrategyFIFO evicts the oldest memories by creation time.
	StrategyFIFO EvictionStrategy = "fifo"

	// StrategyImportance evicts the memories with the lowest importance.
	StrategyImportance EvictionStrategy = "importance"
)

// Valid reports whether s is a known eviction strategy.
func (s EvictionStrategy) Valid() bool {
	switch s {
	case StrategyLRU, StrategyLFU, StrategyFIFO, StrategyImportance:
		return true
	}
	return false
}

// DefaultCleanupInterval is how often the scheduler triggers cleanup when
// the policy does not say otherwise.
const DefaultCleanupInterval = time.Hour

// Policy defines the retention rules for a memory collection.
//
// Each limit is independent; a zero value disables that limit. Memories
// marked persistent are never selected for eviction, although they still
// count toward the per-thread and global caps.
type Policy struct {
	// MaxAge evicts memories created longer than this ago. Zero disables
	// age-based eviction.
	MaxAge time.Duration

	// MaxPerThread caps how many memories a single thread may hold. Zero
	// disables the cap.
	MaxPerThread int

	// MaxTotal caps how many memories the collection may hold overall.
	// Zero disables the cap.
	MaxTotal int

	// CleanupInterval is how often the scheduler runs cleanup. Defaults to
	// DefaultCleanupInterval.
	CleanupInterval time.Duration

	// Strategy orders candidates when a cap forces evictions. Defaults to
	// StrategyLRU.
	Strategy EvictionStrategy
}

// DefaultPolicy returns a policy with no limits, hourly cleanup and LRU
// eviction.
func DefaultPolicy() *Policy {
	return &Policy{
		CleanupInterval: DefaultCleanupInterval,
		Strategy:        StrategyLRU,
	}
}

// Validate checks the policy for invalid settings.
func (p *Policy) Validate() error {
	if p.MaxAge < 0 {
		return fmt.Errorf("retention: max age must not be negative, got %s", p.MaxAge)
	}
	if p.MaxPerThread < 0 {
		return fmt.Errorf("retention: max per thread must not be negative, got %d", p.MaxPerThread)
	}
	if p.MaxTotal < 0 {
		return fmt.Errorf("retention: max total must not be negative, got %d", p.MaxTotal)
	}
	if p.CleanupInterval < 0 {
		return fmt.Errorf("retention: cleanup interval must not be negative, got %s", p.CleanupInterval)
	}
	if p.Strategy != "" && !p.Strategy.Valid() {
		return fmt.Errorf("retention: unknown eviction strategy %q", p.Strategy)
	}
	return nil
}

// withDefaults returns a copy of p with zero fields replaced by defaults.
func (p *Policy) withDefaults() *Policy {
	out := *p
	if out.CleanupInterval == 0 {
		out.CleanupInterval = DefaultCleanupInterval
	}
	if out.Strategy == "" {
		out.Strategy = StrategyLRU
	}
	return &out
}

// Breakdown reports how many memories each selection pass flagged. Passes
// overlap, so the sum can exceed the deduplicated candidate count.
type Breakdown struct {
	AgeExpired   int `json:"age_expired"`
	ThreadExcess int `json:"thread_excess"`
	GlobalExcess int `json:"global_excess"`
}

// SelectCandidates returns the memories the policy would evict at time now.
//
// Three passes run independently over the full set and their results are
// unioned: an age pass, a per-thread cap pass and a global cap pass. The cap
// passes count every memory toward the limit but only evict non-persistent
// ones, so an over-full thread made of persistent memories stays over-full.
// The returned slice is deduplicated and sorted in eviction order.
func SelectCandidates(memories []*storage.Memory, p *Policy, now time.Time) ([]*storage.Memory, Breakdown) {
	p = p.withDefaults()
	selected := make(map[string]*storage.Memory)
	var passes Breakdown

	if p.MaxAge > 0 {
		cutoff := now.Add(-p.MaxAge)
		for _, m := range memories {
			if m.Persistent {
				continue
			}
			if m.CreatedAt.Before(cutoff) {
				selected[m.ID] = m
				passes.AgeExpired++
			}
		}
	}

	if p.MaxPerThread > 0 {
		byThread := make(map[string][]*storage.Memory)
		for _, m := range memories {
			byThread[m.ThreadID] = append(byThread[m.ThreadID], m)
		}
		for _, group := range byThread {
			for _, m := range evictionExcess(group, p.MaxPerThread, p.Strategy) {
				selected[m.ID] = m
				passes.ThreadExcess++
			}
		}
	}

	if p.MaxTotal > 0 {
		// The global pass counts the original set, not what survives the
		// other passes; overlapping picks collapse in the union.
		for _, m := range evictionExcess(memories, p.MaxTotal, p.Strategy) {
			selected[m.ID] = m
			passes.GlobalExcess++
		}
	}

	out := make([]*storage.Memory, 0, len(selected))
	for _, m := range selected {
		out = append(out, m)
	}
	sortByEvictionOrder(out, p.Strategy)
	return out, passes
}

// ApplyEvictionStrategy returns the max(0, len(memories)-keep) memories to
// evict so that the keep most valuable per the strategy order survive. The
// input is not modified; persistence is not consulted here.
func ApplyEvictionStrategy(memories []*storage.Memory, keep int, strategy EvictionStrategy) []*storage.Memory {
	if keep < 0 {
		keep = 0
	}
	if len(memories) <= keep {
		return nil
	}
	ordered := make([]*storage.Memory, len(memories))
	copy(ordered, memories)
	sortByEvictionOrder(ordered, strategy)
	return ordered[:len(memories)-keep]
}

// evictionExcess returns the entries to evict so group fits under max.
// Persistent entries count toward the cap but are never returned, so the
// result can be shorter than the nominal excess.
func evictionExcess(group []*storage.Memory, max int, strategy EvictionStrategy) []*storage.Memory {
	if max <= 0 || len(group) <= max {
		return nil
	}

	evictable := make([]*storage.Memory, 0, len(group))
	persistent := 0
	for _, m := range group {
		if m.Persistent {
			persistent++
			continue
		}
		evictable = append(evictable, m)
	}
	return ApplyEvictionStrategy(evictable, max-persistent, strategy)
}

// sortByEvictionOrder sorts memories ascending so the first element is the
// first to evict. Ties break on creation time, then on id.
func sortByEvictionOrder(memories []*storage.Memory, strategy EvictionStrategy) {
	sort.SliceStable(memories, func(i, j int) bool {
		a, b := memories[i], memories[j]
		switch strategy {
		case StrategyLFU:
			if a.AccessCount != b.AccessCount {
				return a.AccessCount < b.AccessCount
			}
		case StrategyFIFO:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case StrategyImportance:
			if a.Importance != b.Importance {
				return a.Importance < b.Importance
			}
		default:
			at, bt := lastTouched(a), lastTouched(b)
			if !at.Equal(bt) {
				return at.Before(bt)
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// lastTouched is the LRU recency key: last access when known, creation
// time otherwise.
func lastTouched(m *storage.Memory) time.Time {
	if m.LastAccessedAt != nil {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}
