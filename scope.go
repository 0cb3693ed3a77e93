package sentry

import "net/http"

// maxBreadcrumbs is the default cap on the number of breadcrumbs retained by
// a Scope. AddBreadcrumb's limit argument replaces it per call, in either
// direction.
const maxBreadcrumbs = 100

// PropagationContext carries the trace identifiers a Scope uses to seed new
// root spans and outbound trace headers when no local parent span exists.
type PropagationContext struct {
	TraceID      TraceID
	SpanID       SpanID
	ParentSpanID SpanID
	Sampled      Sampled
	Dsc          *DynamicSamplingContext
}

// NewPropagationContext returns a fresh PropagationContext seeded with new
// random identifiers, used whenever a Scope is created with no inherited
// trace information.
func NewPropagationContext() PropagationContext {
	return PropagationContext{
		TraceID: generateTraceID(),
		SpanID:  generateSpanID(),
	}
}

// EventProcessor mutates or drops (by returning nil) an event before it is
// sent. Processors run in order: those of the scope the event is captured
// through (see Scope.ApplyToEvent), then client-level processors. The
// carrier's global scope is not applied to events.
type EventProcessor func(event *Event, hint *EventHint) *Event

// Scope holds contextual data that is attached to every event captured while
// it is current: user, tags, extra data, contexts, breadcrumbs, the
// propagation context used to seed new traces, and (weakly) the span
// currently considered "active".
//
// A Scope is owned by a single logical task at a time; none of its methods
// are safe for concurrent use on the same Scope from multiple goroutines, by
// design: ownership is single-task, so no internal locking is needed.
type Scope struct {
	breadcrumbs []*Breadcrumb

	user        User
	request     *Request
	tags        map[string]string
	extra       map[string]interface{}
	contexts    map[string]interface{}
	level       Level
	transaction string
	fingerprint []string

	propagationContext PropagationContext

	eventProcessors []EventProcessor

	attachments []*Attachment

	span    *Span
	session *Session
	client  *Client

	lastEventID EventID

	sdkProcessingMetadata map[string]interface{}

	// listeners are notified after any mutating method runs. dispatching is
	// re-entrancy guarded: a listener that itself mutates the scope does not
	// trigger a nested dispatch.
	listeners   []func(*Scope)
	dispatching bool
}

// Attachment is raw data attached to an event, serialized as a binary
// envelope item.
type Attachment struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// NewScope returns an empty Scope with a freshly generated propagation
// context.
func NewScope() *Scope {
	return &Scope{
		tags:                  make(map[string]string),
		extra:                 make(map[string]interface{}),
		contexts:              make(map[string]interface{}),
		propagationContext:    NewPropagationContext(),
		sdkProcessingMetadata: make(map[string]interface{}),
	}
}

// Clone returns a structural copy of the scope. The attached span is
// reassigned, never deep-copied: forked scopes start out pointing at the same
// active span as their parent until WithActiveSpan changes that.
func (s *Scope) Clone() *Scope {
	clone := NewScope()
	clone.breadcrumbs = append([]*Breadcrumb(nil), s.breadcrumbs...)
	clone.user = s.user
	clone.request = s.request
	for k, v := range s.tags {
		clone.tags[k] = v
	}
	for k, v := range s.extra {
		clone.extra[k] = v
	}
	for k, v := range s.contexts {
		clone.contexts[k] = v
	}
	clone.level = s.level
	clone.transaction = s.transaction
	clone.fingerprint = append([]string(nil), s.fingerprint...)
	clone.propagationContext = s.propagationContext
	clone.eventProcessors = append([]EventProcessor(nil), s.eventProcessors...)
	clone.attachments = append([]*Attachment(nil), s.attachments...)
	clone.span = s.span
	clone.session = s.session
	clone.client = s.client
	clone.lastEventID = s.lastEventID
	for k, v := range s.sdkProcessingMetadata {
		clone.sdkProcessingMetadata[k] = v
	}
	return clone
}

func (s *Scope) notify() {
	if s.dispatching {
		return
	}
	s.dispatching = true
	defer func() { s.dispatching = false }()
	for _, l := range s.listeners {
		l(s)
	}
}

// AddScopeListener registers fn to run after every mutation of this scope.
func (s *Scope) AddScopeListener(fn func(*Scope)) {
	s.listeners = append(s.listeners, fn)
}

func (s *Scope) SetUser(u User) {
	s.user = u
	s.notify()
}

// SetRequest attaches r (via Request.FromHTTPRequest) to every event captured
// through this scope, the way an HTTP server integration tags a request-scoped
// Hub at the start of each inbound request.
func (s *Scope) SetRequest(r *http.Request) {
	if r == nil {
		s.request = nil
		s.notify()
		return
	}
	req := Request{}.FromHTTPRequest(r)
	s.request = &req
	s.notify()
}

// SetRequestData attaches an already-built Request, for integrations whose
// framework request type isn't a *http.Request (e.g. fasthttp).
func (s *Scope) SetRequestData(r Request) {
	s.request = &r
	s.notify()
}

func (s *Scope) SetTag(key, value string) {
	s.tags[key] = value
	s.notify()
}

func (s *Scope) SetTags(tags map[string]string) {
	for k, v := range tags {
		s.tags[k] = v
	}
	s.notify()
}

func (s *Scope) SetExtra(key string, value interface{}) {
	s.extra[key] = value
	s.notify()
}

func (s *Scope) SetExtras(extra map[string]interface{}) {
	for k, v := range extra {
		s.extra[k] = v
	}
	s.notify()
}

// SetContext sets a named context object. Passing a nil value removes the
// context entry.
func (s *Scope) SetContext(key string, value interface{}) {
	if value == nil {
		delete(s.contexts, key)
	} else {
		s.contexts[key] = value
	}
	s.notify()
}

func (s *Scope) SetLevel(level Level) {
	s.level = level
	s.notify()
}

func (s *Scope) SetTransactionName(name string) {
	s.transaction = name
	s.notify()
}

func (s *Scope) SetFingerprint(fingerprint []string) {
	s.fingerprint = fingerprint
	s.notify()
}

func (s *Scope) SetSession(session *Session) {
	s.session = session
	s.notify()
}

func (s *Scope) SetRequestSession(session *Session) {
	s.SetSession(session)
}

func (s *Scope) SetPropagationContext(pc PropagationContext) {
	s.propagationContext = pc
	s.notify()
}

func (s *Scope) PropagationContext() PropagationContext {
	return s.propagationContext
}

func (s *Scope) SetClient(client *Client) {
	s.client = client
}

func (s *Scope) Client() *Client {
	return s.client
}

func (s *Scope) SetLastEventID(id EventID) {
	s.lastEventID = id
}

func (s *Scope) LastEventID() EventID {
	return s.lastEventID
}

func (s *Scope) SetSDKProcessingMetadata(merge map[string]interface{}) {
	for k, v := range merge {
		s.sdkProcessingMetadata[k] = v
	}
}

func (s *Scope) SpanContext() *Span {
	return s.span
}

func (s *Scope) setSpan(span *Span) {
	s.span = span
	s.notify()
}

func (s *Scope) AddEventProcessor(processor EventProcessor) {
	s.eventProcessors = append(s.eventProcessors, processor)
}

func (s *Scope) AddAttachment(a *Attachment) {
	s.attachments = append(s.attachments, a)
}

func (s *Scope) ClearAttachments() {
	s.attachments = nil
}

// AddBreadcrumb appends a breadcrumb, trimming from the front (oldest first)
// once the scope holds more than limit entries. limit <= 0 means "do not
// record": the call returns without mutating the scope or notifying
// listeners. limit <= 0 is distinct from limit == maxBreadcrumbs, the default
// applied by callers that pass no explicit limit.
func (s *Scope) AddBreadcrumb(breadcrumb *Breadcrumb, limit int) {
	if limit <= 0 {
		return
	}
	if breadcrumb.Timestamp == 0 {
		breadcrumb.Timestamp = monotonicNowUnix()
	}
	s.breadcrumbs = append(s.breadcrumbs, breadcrumb)
	if len(s.breadcrumbs) > limit {
		s.breadcrumbs = s.breadcrumbs[len(s.breadcrumbs)-limit:]
	}
	s.notify()
}

func (s *Scope) ClearBreadcrumbs() {
	s.breadcrumbs = nil
	s.notify()
}

// Clear resets all enrichment fields but preserves the attached client, the
// same way the real SDK treats Scope.clear(): the client is not enrichment
// data, it is wiring.
func (s *Scope) Clear() {
	client := s.client
	*s = *NewScope()
	s.client = client
	s.notify()
}

// CaptureContext is either *Scope, a function (*Scope), or nil. Update
// applies captureContext's enrichment data onto the receiver the way
// Scope.update does in the JS SDK: tags/extra/contexts shallow-merge, user
// replaces when non-empty, level/fingerprint/propagationContext replace when
// provided.
type CaptureContext interface{}

func (s *Scope) Update(captureContext CaptureContext) {
	if captureContext == nil {
		return
	}
	switch v := captureContext.(type) {
	case func(*Scope):
		v(s)
	case *Scope:
		s.applyScope(v)
	case Scope:
		s.applyScope(&v)
	}
	s.notify()
}

func (s *Scope) applyScope(other *Scope) {
	if len(other.tags) > 0 {
		s.SetTags(other.tags)
	}
	for k, v := range other.extra {
		s.extra[k] = v
	}
	for k, v := range other.contexts {
		s.contexts[k] = v
	}
	if (other.user != User{}) {
		s.user = other.user
	}
	if other.level != "" {
		s.level = other.level
	}
	if other.fingerprint != nil {
		s.fingerprint = other.fingerprint
	}
	if other.transaction != "" {
		s.transaction = other.transaction
	}
	s.propagationContext = other.propagationContext
}

// ScopeData is a structural snapshot of a Scope used by the prepare-event
// pipeline; unlike *Scope it carries no client reference or listeners.
type ScopeData struct {
	Breadcrumbs []*Breadcrumb
	User        User
	Request     *Request
	Tags        map[string]string
	Extra       map[string]interface{}
	Contexts    map[string]interface{}
	Level       Level
	Transaction string
	Fingerprint []string
	Attachments []*Attachment
	Propagation PropagationContext
	SDKMetadata map[string]interface{}
}

func (s *Scope) GetScopeData() ScopeData {
	return ScopeData{
		Breadcrumbs: s.breadcrumbs,
		User:        s.user,
		Request:     s.request,
		Tags:        s.tags,
		Extra:       s.extra,
		Contexts:    s.contexts,
		Level:       s.level,
		Transaction: s.transaction,
		Fingerprint: s.fingerprint,
		Attachments: s.attachments,
		Propagation: s.propagationContext,
		SDKMetadata: s.sdkProcessingMetadata,
	}
}

// ApplyToEvent merges the scope's enrichment data onto event without
// overwriting fields the event already set; breadcrumbs are appended and
// tags/extra/contexts are merged key by key. It then runs the scope's event
// processors in order with hint, returning nil if one of them drops the event.
func (s *Scope) ApplyToEvent(event *Event, hint *EventHint) *Event {
	data := s.GetScopeData()

	if len(data.Breadcrumbs) > 0 {
		event.Breadcrumbs = append(event.Breadcrumbs, data.Breadcrumbs...)
	}
	if (event.User == User{}) {
		event.User = data.User
	}
	if event.Request == nil && data.Request != nil {
		event.Request = data.Request
	}
	if event.Level == "" {
		event.Level = data.Level
	}
	if event.Transaction == "" {
		event.Transaction = data.Transaction
	}
	if len(event.Fingerprint) == 0 {
		event.Fingerprint = data.Fingerprint
	}
	for k, v := range data.Tags {
		if event.Tags == nil {
			event.Tags = make(map[string]string)
		}
		if _, ok := event.Tags[k]; !ok {
			event.Tags[k] = v
		}
	}
	for k, v := range data.Extra {
		if event.Extra == nil {
			event.Extra = make(map[string]interface{})
		}
		if _, ok := event.Extra[k]; !ok {
			event.Extra[k] = v
		}
	}
	for k, v := range data.Contexts {
		if event.Contexts == nil {
			event.Contexts = make(map[string]interface{})
		}
		if _, ok := event.Contexts[k]; !ok {
			event.Contexts[k] = v
		}
	}
	for _, processor := range s.eventProcessors {
		if event = processor(event, hint); event == nil {
			return nil
		}
	}
	return event
}

// captureException, captureMessage and captureEvent on Scope mirror the JS
// API shape: they mint (or reuse) an event_id, warn when no client is
// attached, and delegate to the client with this scope as the capturing
// scope.
func (s *Scope) captureException(exception error, hint *EventHint) *EventID {
	if s.client == nil {
		Logger.Println("captureException called with no client attached to scope")
		id := generateEventID()
		return &id
	}
	return s.client.CaptureException(exception, hint, s)
}

func (s *Scope) captureMessage(message string, hint *EventHint) *EventID {
	if s.client == nil {
		Logger.Println("captureMessage called with no client attached to scope")
		id := generateEventID()
		return &id
	}
	return s.client.CaptureMessage(message, hint, s)
}

func (s *Scope) captureEvent(event *Event, hint *EventHint) *EventID {
	if s.client == nil {
		Logger.Println("captureEvent called with no client attached to scope")
		id := generateEventID()
		return &id
	}
	return s.client.CaptureEvent(event, hint, s)
}
