package sentry

import (
	"sort"
	"sync"
)

// maxSpans is the hard cap on descendant spans kept per transaction. Beyond
// this, the 1000 earliest spans by start time win; ties are broken by
// SpanID, lexicographically, for determinism (see DESIGN.md).
const maxSpans = 1000

// A spanRecorder stores the span tree that makes up a transaction. Safe for
// concurrent use: child spans may be started from multiple goroutines sharing
// the same root.
type spanRecorder struct {
	mu    sync.Mutex
	spans []*Span

	// discarded counts spans that were recorded but later excluded from the
	// final transaction payload, either by the maxSpans cutoff or by the idle
	// span coordinator detaching stragglers (sentry.idle_span_discarded_spans).
	discarded int
}

// record stores a span. The first stored span is assumed to be the root of
// the span tree.
func (r *spanRecorder) record(s *Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, s)
}

// discard removes s from the recorder (used by the idle span coordinator to
// detach stragglers) and increments the discard counter.
func (r *spanRecorder) discard(s *Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sp := range r.spans {
		if sp == s {
			r.spans = append(r.spans[:i], r.spans[i+1:]...)
			r.discarded++
			return
		}
	}
}

func (r *spanRecorder) discardedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	discarded := r.discarded
	if overflow := len(r.spans) - 1 - maxSpans; overflow > 0 {
		discarded += overflow
	}
	return discarded
}

// children returns up to maxSpans descendant spans (the root excluded),
// sorted by (StartTime, SpanID) and truncated to the earliest maxSpans when
// there are more. Returns nil if there are no children.
func (r *spanRecorder) children() []*Span {
	r.mu.Lock()
	all := append([]*Span(nil), r.spans...)
	r.mu.Unlock()

	if len(all) < 2 {
		return nil
	}
	children := all[1:]

	sort.Slice(children, func(i, j int) bool {
		if !children[i].StartTime.Equal(children[j].StartTime) {
			return children[i].StartTime.Before(children[j].StartTime)
		}
		return children[i].SpanID.String() < children[j].SpanID.String()
	})

	if len(children) > maxSpans {
		children = children[:maxSpans]
	}
	return children
}
