package sentry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// layer is one entry of a Hub's scope stack: a scope paired with the client
// it was bound to when pushed. Mirrors the real SDK's Hub internals.
type layer struct {
	client *Client
	scope  *Scope
}

// Hub is the default, stack-based realization of AsyncContextStrategy. Go
// has no continuation-local storage, so "current task" is modeled
// explicitly: a Hub is either the process-wide default (returned
// by CurrentHub) or one explicitly threaded through a context.Context (via
// HubFromContext), the same way the upstream SDK has always worked. A richer
// host integration (e.g. one Hub per goroutine pool worker) can install its
// own AsyncContextStrategy via SetAsyncContextStrategy instead of relying on
// context propagation.
type Hub struct {
	mu    sync.Mutex
	stack []*layer

	lastEventID EventID
}

type hubContextKey struct{}

// NewHub returns a Hub seeded with client and scope as its sole (isolation)
// layer.
func NewHub(client *Client, scope *Scope) *Hub {
	if scope == nil {
		scope = NewScope()
	}
	scope.SetClient(client)
	hub := &Hub{
		stack: []*layer{{client: client, scope: scope}},
	}
	return hub
}

// CurrentHub returns the Hub backing the default carrier's AsyncContextStrategy,
// initializing it lazily with no client (tracing/sending disabled until a
// client is set via Init or BindClient). If a host has installed a
// non-default AsyncContextStrategy (one not backed by a single process-wide
// Hub), CurrentHub still returns a usable, independent Hub for legacy
// Hub-style call sites; its scope is not the one such a strategy resolves.
func CurrentHub() *Hub {
	if s, ok := getMainCarrier().getStrategy().(*stackStrategy); ok {
		return s.hub
	}
	return fallbackHub()
}

var (
	fallbackHubMu sync.Mutex
	fallbackHubV  *Hub
)

func fallbackHub() *Hub {
	fallbackHubMu.Lock()
	defer fallbackHubMu.Unlock()
	if fallbackHubV == nil {
		fallbackHubV = NewHub(nil, NewScope())
	}
	return fallbackHubV
}

// HubFromContext returns the Hub stored in ctx by a prior call to
// SetHubOnContext, or CurrentHub() if ctx carries none.
func HubFromContext(ctx context.Context) *Hub {
	if ctx != nil {
		if hub, ok := ctx.Value(hubContextKey{}).(*Hub); ok {
			return hub
		}
	}
	return CurrentHub()
}

// SetHubOnContext returns a copy of ctx carrying hub, retrievable with
// HubFromContext.
func SetHubOnContext(ctx context.Context, hub *Hub) context.Context {
	return context.WithValue(ctx, hubContextKey{}, hub)
}

// GetHubFromContext returns the Hub explicitly stored in ctx by
// SetHubOnContext, or nil if ctx carries none. Unlike HubFromContext, it does
// not fall back to CurrentHub(): server integrations use this to distinguish
// "no request-scoped Hub was installed" from "the default Hub".
func GetHubFromContext(ctx context.Context) *Hub {
	if ctx == nil {
		return nil
	}
	hub, _ := ctx.Value(hubContextKey{}).(*Hub)
	return hub
}

func (hub *Hub) top() *layer {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return hub.stack[len(hub.stack)-1]
}

// Scope returns the current (topmost) scope.
func (hub *Hub) Scope() *Scope {
	return hub.top().scope
}

// IsolationScope returns the task-root scope: the bottom of the stack, which
// survives PushScope/PopScope.
func (hub *Hub) IsolationScope() *Scope {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return hub.stack[0].scope
}

// Client returns the client bound to the current layer, or nil.
func (hub *Hub) Client() *Client {
	return hub.top().client
}

// BindClient attaches client to the current layer.
func (hub *Hub) BindClient(client *Client) {
	hub.mu.Lock()
	top := hub.stack[len(hub.stack)-1]
	hub.mu.Unlock()
	top.client = client
	top.scope.SetClient(client)
}

// PushScope clones the current scope and pushes the clone, returning it.
func (hub *Hub) PushScope() *Scope {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	top := hub.stack[len(hub.stack)-1]
	newLayer := &layer{client: top.client, scope: top.scope.Clone()}
	hub.stack = append(hub.stack, newLayer)
	return newLayer.scope
}

// PopScope removes the topmost layer, unless it is the only (isolation)
// layer.
func (hub *Hub) PopScope() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.stack) <= 1 {
		return
	}
	hub.stack = hub.stack[:len(hub.stack)-1]
}

// WithScope forks the scope, runs f with it current, and restores the
// previous scope afterwards, even if f panics.
func (hub *Hub) WithScope(f func(scope *Scope)) {
	scope := hub.PushScope()
	defer hub.PopScope()
	f(scope)
}

// ConfigureScope runs f against the current scope in place (no fork).
func (hub *Hub) ConfigureScope(f func(scope *Scope)) {
	f(hub.Scope())
}

// Clone returns a new Hub with the same client and a cloned current scope,
// the idiom used to fork a Hub across a new goroutine.
func (hub *Hub) Clone() *Hub {
	top := hub.top()
	return NewHub(top.client, top.scope.Clone())
}

func (hub *Hub) LastEventID() EventID {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return hub.lastEventID
}

func (hub *Hub) setLastEventID(id EventID) {
	hub.mu.Lock()
	hub.lastEventID = id
	hub.mu.Unlock()
}

func (hub *Hub) CaptureException(exception error) *EventID {
	hint := &EventHint{OriginalException: exception}
	id := hub.Scope().captureException(exception, hint)
	if id != nil {
		hub.setLastEventID(*id)
	}
	return id
}

func (hub *Hub) CaptureMessage(message string) *EventID {
	hint := &EventHint{}
	id := hub.Scope().captureMessage(message, hint)
	if id != nil {
		hub.setLastEventID(*id)
	}
	return id
}

func (hub *Hub) CaptureEvent(event *Event) *EventID {
	hint := &EventHint{}
	id := hub.Scope().captureEvent(event, hint)
	if id != nil {
		hub.setLastEventID(*id)
	}
	return id
}

func (hub *Hub) Recover(err interface{}) *EventID {
	return hub.RecoverWithContext(context.Background(), err)
}

func (hub *Hub) RecoverWithContext(ctx context.Context, err interface{}) *EventID {
	if err == nil {
		return nil
	}
	hint := &EventHint{RecoveredException: err, Context: ctx}
	var exception error
	if e, ok := err.(error); ok {
		exception = e
	} else {
		exception = fmt.Errorf("%v", err)
	}
	hint.OriginalException = exception
	id := hub.Scope().captureException(exception, hint)
	if id != nil {
		hub.setLastEventID(*id)
	}
	return id
}

func (hub *Hub) Flush(timeout time.Duration) bool {
	client := hub.Client()
	if client == nil {
		return true
	}
	return client.Flush(timeout)
}

// Close flushes queued events, then shuts down the client's transport.
func (hub *Hub) Close(timeout time.Duration) bool {
	client := hub.Client()
	if client == nil {
		return true
	}
	return client.Close(timeout)
}

// AddBreadcrumb appends breadcrumb to the current scope, running the
// client's BeforeBreadcrumb hook first (dropping the breadcrumb if it
// returns nil) and applying the client's MaxBreadcrumbs limit.
func (hub *Hub) AddBreadcrumb(breadcrumb *Breadcrumb, hint BreadcrumbHint) {
	client := hub.Client()
	limit := defaultMaxBreadcrumbs
	if client != nil {
		options := client.Options()
		limit = options.MaxBreadcrumbs
		if options.BeforeBreadcrumb != nil {
			breadcrumb = options.BeforeBreadcrumb(breadcrumb, hint)
			if breadcrumb == nil {
				return
			}
		}
	}
	hub.Scope().AddBreadcrumb(breadcrumb, limit)
}

// stackStrategy is the default AsyncContextStrategy, backed by a single Hub
// per carrier. Because Go goroutines have no implicit continuation-local
// storage, "the current task" is, for this default strategy, simply "the
// caller" — scope forking happens via explicit PushScope/PopScope around the
// callback rather than via any ambient per-goroutine state. Integrations that
// need real per-request isolation run their own Hub (see x/sentryhttp) or
// install a richer AsyncContextStrategy.
type stackStrategy struct {
	hub *Hub
}

func newStackStrategy(_ *carrier) *stackStrategy {
	return &stackStrategy{hub: NewHub(nil, NewScope())}
}

func (s *stackStrategy) CurrentScope() *Scope   { return s.hub.Scope() }
func (s *stackStrategy) IsolationScope() *Scope { return s.hub.IsolationScope() }

func (s *stackStrategy) WithScope(fn func(scope *Scope)) {
	s.hub.WithScope(fn)
}

func (s *stackStrategy) WithSetScope(scope *Scope, fn func()) {
	s.hub.mu.Lock()
	top := s.hub.stack[len(s.hub.stack)-1]
	previous := top.scope
	top.scope = scope
	s.hub.mu.Unlock()
	defer func() {
		s.hub.mu.Lock()
		top.scope = previous
		s.hub.mu.Unlock()
	}()
	fn()
}

func (s *stackStrategy) WithActiveSpan(span *Span, fn func()) {
	s.hub.WithScope(func(scope *Scope) {
		scope.setSpan(span)
		fn()
	})
}

func (s *stackStrategy) ActiveSpan() *Span {
	return s.hub.Scope().SpanContext()
}
