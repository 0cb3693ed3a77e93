package sentry

import (
	"context"
	"sync"
	"time"
)

// IdleSpanOptions configures an idle span: a root span that finalizes itself
// once its children go quiet.
type IdleSpanOptions struct {
	IdleTimeout       time.Duration
	FinalTimeout      time.Duration
	ChildSpanTimeout  time.Duration
	DisableAutoFinish bool
	BeforeSpanEnd     func(span *Span)
}

const (
	defaultIdleTimeout      = 1 * time.Second
	defaultFinalTimeout     = 30 * time.Second
	defaultChildSpanTimeout = 5 * time.Second
)

// idleSpanState coordinates the three timers and child-span bookkeeping that
// make a root span finish itself automatically. It is attached to exactly
// one root span via Span.idle.
type idleSpanState struct {
	mu sync.Mutex

	span         *Span
	idleTimeout  time.Duration
	finalTimeout time.Duration
	childTimeout time.Duration
	beforeEnd    func(span *Span)
	autoFinish   bool

	idleTimer  *time.Timer
	childTimer *time.Timer
	finalTimer *time.Timer

	activeChildren int
	latestChildEnd time.Time
}

// StartIdleSpan starts a root span that automatically ends itself once it
// goes quiet: see IdleSpanOptions for the timers involved. It always starts a
// fresh root span (ForceTransaction semantics), since an idle span's
// lifecycle rules only make sense for a span that owns a whole subtree.
func StartIdleSpan(ctx context.Context, name string, opts IdleSpanOptions, spanOpts ...SpanOption) *Span {
	allOpts := append([]SpanOption{ForceTransaction()}, spanOpts...)
	span := StartSpan(ctx, name, allOpts...)
	if !span.IsRecording() {
		return span
	}

	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.FinalTimeout <= 0 {
		opts.FinalTimeout = defaultFinalTimeout
	}
	if opts.ChildSpanTimeout <= 0 {
		opts.ChildSpanTimeout = defaultChildSpanTimeout
	}

	idle := &idleSpanState{
		span:         span,
		idleTimeout:  opts.IdleTimeout,
		finalTimeout: opts.FinalTimeout,
		childTimeout: opts.ChildSpanTimeout,
		beforeEnd:    opts.BeforeSpanEnd,
		autoFinish:   !opts.DisableAutoFinish,
	}
	span.idle = idle

	idle.finalTimer = time.AfterFunc(idle.finalTimeout, idle.onFinalTimeout)
	if idle.autoFinish {
		idle.armIdleTimer()
	}
	return span
}

// EnableAutoFinish arms the idle and child-span timers on an idle span that
// was created with DisableAutoFinish.
func (s *Span) EnableAutoFinish() {
	if s.idle == nil {
		return
	}
	idle := s.idle
	idle.mu.Lock()
	if idle.autoFinish {
		idle.mu.Unlock()
		return
	}
	idle.autoFinish = true
	idle.mu.Unlock()
	if idle.activeChildrenCount() == 0 {
		idle.armIdleTimer()
	} else {
		idle.armChildTimer()
	}
}

func (idle *idleSpanState) activeChildrenCount() int {
	idle.mu.Lock()
	defer idle.mu.Unlock()
	return idle.activeChildren
}

func (idle *idleSpanState) armIdleTimer() {
	idle.mu.Lock()
	defer idle.mu.Unlock()
	if idle.idleTimer != nil {
		idle.idleTimer.Stop()
	}
	idle.idleTimer = time.AfterFunc(idle.idleTimeout, idle.onIdleTimeout)
}

func (idle *idleSpanState) armChildTimer() {
	idle.mu.Lock()
	defer idle.mu.Unlock()
	if idle.childTimer != nil {
		idle.childTimer.Stop()
	}
	idle.childTimer = time.AfterFunc(idle.childTimeout, idle.onChildTimeout)
}

func (idle *idleSpanState) stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (idle *idleSpanState) onChildStart(child *Span) {
	idle.mu.Lock()
	idle.activeChildren++
	idle.stopTimer(idle.idleTimer)
	idle.idleTimer = nil
	auto := idle.autoFinish
	idle.mu.Unlock()
	if auto {
		idle.armChildTimer()
	}
}

func (idle *idleSpanState) onChildEnd(child *Span, endTime time.Time) {
	idle.mu.Lock()
	if idle.activeChildren > 0 {
		idle.activeChildren--
	}
	if endTime.After(idle.latestChildEnd) {
		idle.latestChildEnd = endTime
	}
	remaining := idle.activeChildren
	auto := idle.autoFinish
	idle.mu.Unlock()

	if remaining > 0 {
		if auto {
			idle.armChildTimer()
		}
		return
	}
	idle.stopTimer(idle.childTimer)
	if auto {
		idle.armIdleTimer()
	}
}

func (idle *idleSpanState) onIdleTimeout() {
	if idle.activeChildrenCount() > 0 {
		return
	}
	idle.span.endWithReason(finishReasonIdleTimeout)
}

func (idle *idleSpanState) onChildTimeout() {
	idle.span.endWithReason(finishReasonHeartbeatFailed)
}

func (idle *idleSpanState) onFinalTimeout() {
	idle.span.SetStatus(SpanStatusDeadlineExceeded, "")
	idle.span.endWithReason(finishReasonFinalTimeout)
}

// finalize computes the effective end time, runs beforeSpanEnd, force-cancels
// children still recording, and detaches stragglers. Invoked from
// Span.endWithReason for spans carrying idle state, before the base
// timestamp/capture logic commits.
func (idle *idleSpanState) finalize(observedEnd time.Time) time.Time {
	idle.stopTimer(idle.idleTimer)
	idle.stopTimer(idle.childTimer)
	idle.stopTimer(idle.finalTimer)

	span := idle.span
	start := span.StartTime

	effectiveEnd := observedEnd
	idle.mu.Lock()
	latest := idle.latestChildEnd
	idle.mu.Unlock()
	if !latest.IsZero() && latest.Before(effectiveEnd) {
		effectiveEnd = latest
	}
	if effectiveEnd.Before(start) {
		effectiveEnd = start
	}
	maxEnd := start.Add(idle.finalTimeout)
	if effectiveEnd.After(maxEnd) {
		effectiveEnd = maxEnd
	}

	if idle.beforeEnd != nil {
		idle.beforeEnd(span)
	}

	if span.recorder != nil {
		for _, child := range span.recorder.children() {
			if child == span {
				continue
			}
			if !child.IsRecording() {
				continue
			}
			if child.StartTime.After(effectiveEnd) || now().Sub(child.StartTime) > idle.finalTimeout+idle.idleTimeout {
				span.recorder.discard(child)
				continue
			}
			child.SetStatus(SpanStatusCanceled, "")
			child.endWithReason(finishReasonCancelled, effectiveEnd)
		}
	}

	return effectiveEnd
}
