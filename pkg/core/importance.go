package core

import (
	"math"
	"strings"
)

// signalWords raise estimated importance when they appear in content.
var signalWords = []string{
	"always", "never", "important", "critical", "urgent",
	"remember", "must", "deadline", "prefer", "dislike",
	"password", "secret",
}

// EstimateImportance scores content heuristically in [0, 1].
//
// The estimate combines the memory type, content length, signal words and
// metadata. It is intentionally cheap and deterministic; callers wanting
// model-driven scoring can compute their own value and pass it through
// WithImportance.
func EstimateImportance(content string, meta Metadata) float64 {
	score := 0.2
	lower := strings.ToLower(content)

	switch meta.Type {
	case TypePreference, TypeFact:
		score += 0.2
	case TypeSummary:
		score += 0.15
	case TypeContext:
		score += 0.1
	}

	if len(content) > 200 {
		score += 0.1
	} else if len(content) > 80 {
		score += 0.05
	}

	for _, word := range signalWords {
		if strings.Contains(lower, word) {
			score += 0.1
		}
	}

	if len(meta.Tags) > 0 {
		score += 0.05
	}
	if meta.Persistent {
		score += 0.1
	}

	return math.Min(score, 1.0)
}

// WithAutoImportance makes Store estimate importance from the content when
// none is given explicitly.
//
// Example:
//
//	entry, _ := client.Store(ctx, "thread_001", "Always deploy from main",
//	    core.WithMemoryType(core.TypeFact),
//	    core.WithAutoImportance(),
//	)
func WithAutoImportance() StoreOption {
	return func(opts *StoreOptions) {
		opts.AutoImportance = true
	}
}
