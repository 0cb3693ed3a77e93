package sentry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// TraceID identifies a trace: a 32-hex-char identifier, unique per trace.
type TraceID [16]byte

func (id TraceID) Hex() []byte {
	b := make([]byte, hex.EncodedLen(len(id)))
	hex.Encode(b, id[:])
	return b
}

func (id TraceID) String() string              { return string(id.Hex()) }
func (id TraceID) MarshalText() ([]byte, error) { return id.Hex(), nil }
func (id TraceID) IsZero() bool                 { return id == zeroTraceID }

// SpanID identifies a span: a 16-hex-char identifier, unique per span.
type SpanID [8]byte

func (id SpanID) Hex() []byte {
	b := make([]byte, hex.EncodedLen(len(id)))
	hex.Encode(b, id[:])
	return b
}

func (id SpanID) String() string              { return string(id.Hex()) }
func (id SpanID) MarshalText() ([]byte, error) { return id.Hex(), nil }
func (id SpanID) IsZero() bool                 { return id == zeroSpanID }

var (
	zeroTraceID TraceID
	zeroSpanID  SpanID
)

// SpanOrigin tags who started a span: manual user code, or an automatic
// integration.
type SpanOrigin string

const (
	SpanOriginManual                SpanOrigin = "manual"
	SpanOriginAutoHTTPClient        SpanOrigin = "auto.http.client"
	SpanOriginAutoHTTPServer        SpanOrigin = "auto.http.server"
	SpanOriginAutoHTTPBrowser       SpanOrigin = "auto.http.browser"
	SpanOriginAutoPageloadBrowser   SpanOrigin = "auto.pageload.browser"
	SpanOriginAutoNavigationBrowser SpanOrigin = "auto.navigation.browser"
)

// SpanStatus is the status of a span.
type SpanStatus uint8

const (
	SpanStatusUndefined SpanStatus = iota
	SpanStatusOK
	SpanStatusCanceled
	SpanStatusUnknown
	SpanStatusInvalidArgument
	SpanStatusDeadlineExceeded
	SpanStatusNotFound
	SpanStatusAlreadyExists
	SpanStatusPermissionDenied
	SpanStatusResourceExhausted
	SpanStatusFailedPrecondition
	SpanStatusAborted
	SpanStatusOutOfRange
	SpanStatusUnimplemented
	SpanStatusInternalError
	SpanStatusUnavailable
	SpanStatusDataLoss
	SpanStatusUnauthenticated
	maxSpanStatus
)

func (ss SpanStatus) String() string {
	if ss >= maxSpanStatus {
		return ""
	}
	m := [maxSpanStatus]string{
		"",
		"ok",
		"cancelled", // [sic], matches upstream spelling
		"unknown",
		"invalid_argument",
		"deadline_exceeded",
		"not_found",
		"already_exists",
		"permission_denied",
		"resource_exhausted",
		"failed_precondition",
		"aborted",
		"out_of_range",
		"unimplemented",
		"internal_error",
		"unavailable",
		"data_loss",
		"unauthenticated",
	}
	return m[ss]
}

func (ss SpanStatus) MarshalJSON() ([]byte, error) {
	s := ss.String()
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s)
}

// SpanEvent is a single timed annotation recorded on a span. Events carrying
// sentry.measurement_value / sentry.measurement_unit attributes are promoted
// to Event.Measurements when the root span ends.
type SpanEvent struct {
	Name       string                 `json:"name"`
	Time       time.Time              `json:"time"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// A Span is the building block of a trace. Spans build up a tree of timed
// operations; the tree rooted at a non-standalone root span becomes a
// TransactionEvent when the root is finished.
//
// Spans must be created with StartSpan, StartInactiveSpan, Span.StartChild,
// or StartIdleSpan. Once started, a span is either "recording" (IsRecording()
// == true — it was sampled in and has not yet ended) or a static, inert
// placeholder returned whenever tracing is disabled or the sampling decision
// rejected it; all mutating methods on the latter are no-ops.
type Span struct {
	TraceID      TraceID    `json:"trace_id"`
	SpanID       SpanID     `json:"span_id"`
	ParentSpanID SpanID     `json:"parent_span_id,omitempty"`
	Op           string     `json:"op,omitempty"`
	Description  string     `json:"description,omitempty"`
	Origin       SpanOrigin `json:"origin,omitempty"`
	Status       SpanStatus `json:"status,omitempty"`

	Attributes map[string]interface{} `json:"data,omitempty"`
	Tags       map[string]string      `json:"tags,omitempty"`

	StartTime time.Time `json:"start_timestamp"`
	EndTime   time.Time `json:"timestamp,omitempty"`

	events []SpanEvent

	sampled      bool
	isStandalone bool

	ctx context.Context
	hub *Hub

	parent        *Span
	root          *Span
	isTransaction bool
	recorder      *spanRecorder

	dsc        *DynamicSamplingContext
	sampleRate *float64

	idle *idleSpanState

	mu       sync.Mutex
	finished bool
}

// IsRecording reports whether the span is still open (no end time) and was
// sampled in. A span that is not recording ignores every mutator.
func (s *Span) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.finished && s.sampled
}

// Root returns the root span of s's local tree in O(1).
func (s *Span) Root() *Span {
	if s.root != nil {
		return s.root
	}
	return s
}

// SetName sets the span's human-readable description. No-op if the span is
// not recording.
func (s *Span) SetName(name string) {
	if !s.IsRecording() {
		return
	}
	s.Description = name
}

// SetStatus sets the span's status and, for non-OK statuses, an optional
// free-text message. No-op if the span is not recording.
func (s *Span) SetStatus(status SpanStatus, message string) {
	if !s.IsRecording() {
		return
	}
	s.Status = status
	if message != "" {
		s.SetAttribute("sentry.status_message", message)
	}
}

// SetAttribute sets a single attribute. No-op if the span is not recording.
func (s *Span) SetAttribute(key string, value interface{}) {
	if !s.IsRecording() {
		return
	}
	if s.Attributes == nil {
		s.Attributes = make(map[string]interface{})
	}
	s.Attributes[key] = value
}

// SetTag sets a single tag, kept for parity with transaction-level tags used
// by root spans. No-op if the span is not recording.
func (s *Span) SetTag(key, value string) {
	if !s.IsRecording() {
		return
	}
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[key] = value
}

// AddEvent appends a timed event to the span. No-op if the span is not
// recording.
func (s *Span) AddEvent(name string, attributes map[string]interface{}) {
	if !s.IsRecording() {
		return
	}
	s.events = append(s.events, SpanEvent{Name: name, Time: now(), Attributes: attributes})
}

// Context returns the context the span was started with. For spans from
// StartSpan and StartChild it also carries the span itself for retrieval via
// SpanFromContext; StartInactiveSpan keeps the caller's context unchanged.
func (s *Span) Context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

type spanContextKey struct{}

// SpanFromContext returns the span stored in ctx by StartSpan, or a detached
// non-recording span if none is present.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey{}).(*Span); ok {
		return span
	}
	return &Span{ctx: ctx}
}

// StartSpanOptions configures a new span at creation time.
type StartSpanOptions struct {
	Op               string
	Description      string
	Origin           SpanOrigin
	Attributes       map[string]interface{}
	StartTime        time.Time
	ForceTransaction bool
	OnlyIfParent     bool
	IsStandalone     bool
}

// A SpanOption mutates StartSpanOptions before a span is created.
type SpanOption func(*StartSpanOptions)

func WithOpName(op string) SpanOption {
	return func(o *StartSpanOptions) { o.Op = op }
}

func WithDescription(desc string) SpanOption {
	return func(o *StartSpanOptions) { o.Description = desc }
}

func WithOrigin(origin SpanOrigin) SpanOption {
	return func(o *StartSpanOptions) { o.Origin = origin }
}

func WithAttributes(attrs map[string]interface{}) SpanOption {
	return func(o *StartSpanOptions) {
		if o.Attributes == nil {
			o.Attributes = make(map[string]interface{})
		}
		for k, v := range attrs {
			o.Attributes[k] = v
		}
	}
}

func WithStartTime(t time.Time) SpanOption {
	return func(o *StartSpanOptions) { o.StartTime = t }
}

// ForceTransaction makes the new span a root span (transaction) even when a
// local parent span exists.
func ForceTransaction() SpanOption {
	return func(o *StartSpanOptions) { o.ForceTransaction = true }
}

// OnlyIfParent returns a non-recording span unless a parent span is already
// active on the current scope.
func OnlyIfParent() SpanOption {
	return func(o *StartSpanOptions) { o.OnlyIfParent = true }
}

// AsStandalone marks the new root span as standalone: on end it is serialized
// directly to a span envelope instead of becoming a transaction event.
func AsStandalone() SpanOption {
	return func(o *StartSpanOptions) { o.IsStandalone = true }
}

// StartInactiveSpan starts a span without making it the active span on any
// scope. It always returns a non-nil *Span, recording or not.
func StartInactiveSpan(ctx context.Context, name string, opts ...SpanOption) *Span {
	hub := HubFromContext(ctx)
	options := StartSpanOptions{Description: name, StartTime: now()}
	for _, opt := range opts {
		opt(&options)
	}

	scope := hub.Scope()
	parent := scope.SpanContext()

	if options.OnlyIfParent && parent == nil {
		return nonRecordingSpan(ctx, hub)
	}

	var span *Span
	switch {
	case parent != nil && !options.ForceTransaction:
		span = newChildSpan(ctx, hub, parent, options)
	case parent != nil && options.ForceTransaction:
		span = newRootSpanFromParent(ctx, hub, parent, options)
	default:
		span = newRootSpanFromScope(ctx, hub, scope, options)
	}
	return span
}

// StartSpan starts a new span and binds it into the returned context,
// retrievable via SpanFromContext.
func StartSpan(ctx context.Context, name string, opts ...SpanOption) *Span {
	span := StartInactiveSpan(ctx, name, opts...)
	span.ctx = context.WithValue(ctx, spanContextKey{}, span)
	return span
}

// StartChild starts a new child span of s, inheriting s's trace, sampling
// decision and hub, and binds it into its returned Context as StartSpan does.
// ForceTransaction and OnlyIfParent have no effect here. On a span with no
// trace (SpanFromContext's detached placeholder) it behaves like
// StartSpan(s.Context(), name, opts...).
func (s *Span) StartChild(name string, opts ...SpanOption) *Span {
	if s.TraceID.IsZero() {
		return StartSpan(s.Context(), name, opts...)
	}
	options := StartSpanOptions{Description: name, StartTime: now()}
	for _, opt := range opts {
		opt(&options)
	}
	child := newChildSpan(s.Context(), HubFromContext(s.Context()), s, options)
	child.ctx = context.WithValue(s.Context(), spanContextKey{}, child)
	return child
}

func nonRecordingSpan(ctx context.Context, hub *Hub) *Span {
	s := &Span{
		TraceID: generateTraceID(),
		SpanID:  generateSpanID(),
		hub:     hub,
	}
	s.root = s
	s.ctx = context.WithValue(ctx, spanContextKey{}, s)
	return s
}

func newChildSpan(ctx context.Context, hub *Hub, parent *Span, options StartSpanOptions) *Span {
	span := baseSpan(ctx, hub, options)
	span.TraceID = parent.TraceID
	span.ParentSpanID = parent.SpanID
	span.parent = parent
	span.root = parent.Root()
	span.sampled = parent.sampled
	span.recorder = span.root.recorder
	if span.sampled && span.recorder != nil {
		span.recorder.record(span)
	}
	if idle := span.root.idle; idle != nil {
		idle.onChildStart(span)
	}
	return span
}

func newRootSpanFromParent(ctx context.Context, hub *Hub, parent *Span, options StartSpanOptions) *Span {
	span := baseSpan(ctx, hub, options)
	span.TraceID = parent.TraceID
	span.ParentSpanID = parent.SpanID
	span.isTransaction = true
	span.root = span
	span.sampled = parent.sampled
	span.recorder = &spanRecorder{}
	span.recorder.record(span)
	span.dsc = freezeDsc(hub, span)
	return span
}

func newRootSpanFromScope(ctx context.Context, hub *Hub, scope *Scope, options StartSpanOptions) *Span {
	pc := scope.propagationContext
	if pc.TraceID.IsZero() {
		pc = hub.IsolationScope().propagationContext
	}

	span := baseSpan(ctx, hub, options)
	span.TraceID = pc.TraceID
	span.ParentSpanID = pc.ParentSpanID
	span.isTransaction = true
	span.root = span
	span.recorder = &spanRecorder{}
	span.recorder.record(span)

	sampled, rate := sampleSpan(sampleSpanOptions{
		name:          options.Description,
		attributes:    options.Attributes,
		parentSampled: samplingDecisionFromPropagation(pc),
	}, hub)
	span.sampled = sampled
	span.sampleRate = rate
	if pc.Dsc != nil {
		span.dsc = pc.Dsc
	} else {
		span.dsc = freezeDsc(hub, span)
	}
	return span
}

func samplingDecisionFromPropagation(pc PropagationContext) *bool {
	switch pc.Sampled {
	case SampledTrue:
		v := true
		return &v
	case SampledFalse:
		v := false
		return &v
	default:
		return nil
	}
}

func baseSpan(ctx context.Context, hub *Hub, options StartSpanOptions) *Span {
	s := &Span{
		SpanID:       generateSpanID(),
		Op:           options.Op,
		Description:  options.Description,
		Origin:       options.Origin,
		Attributes:   options.Attributes,
		StartTime:    options.StartTime,
		ctx:          ctx,
		hub:          hub,
		isStandalone: options.IsStandalone,
	}
	if s.StartTime.IsZero() {
		s.StartTime = now()
	}
	return s
}

// TracesSampler decides the sampling rate for a new root span.
type TracesSampler func(ctx SamplingContext) float64

// SamplingContext is passed to a TracesSampler.
type SamplingContext struct {
	Name          string
	ParentSampled *bool
	Attributes    map[string]interface{}
}

type sampleSpanOptions struct {
	name          string
	attributes    map[string]interface{}
	parentSampled *bool
}

// sampleSpan determines a sampling rate from the client's tracing options,
// parses it, and draws the sampling decision.
func sampleSpan(opts sampleSpanOptions, hub *Hub) (sampled bool, rate *float64) {
	client := hub.Client()
	if client == nil || !client.Options().tracingEnabled() {
		return false, nil
	}
	co := client.Options()

	var rawRate interface{}
	switch {
	case co.TracesSampler != nil:
		rawRate = co.TracesSampler(SamplingContext{
			Name:          opts.name,
			ParentSampled: opts.parentSampled,
			Attributes:    opts.attributes,
		})
	case opts.parentSampled != nil:
		rawRate = *opts.parentSampled
	case co.TracesSampleRate != nil:
		rawRate = *co.TracesSampleRate
	default:
		rawRate = 1.0
	}

	parsed, ok := parseSampleRate(rawRate)
	if !ok {
		Logger.Printf("invalid trace sample rate: %v", rawRate)
		return false, nil
	}
	rate = &parsed

	if parsed <= 0 {
		return false, rate
	}
	return rand.Float64() < parsed, rate
}

func parseSampleRate(v interface{}) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}

// finishReason is the closed enum of reasons an idle or explicit span ended.
type finishReason string

const (
	finishReasonCancelled              finishReason = "cancelled"
	finishReasonDocumentHidden         finishReason = "documentHidden"
	finishReasonExternalFinish         finishReason = "externalFinish"
	finishReasonFinalTimeout           finishReason = "finalTimeout"
	finishReasonHeartbeatFailed        finishReason = "heartbeatFailed"
	finishReasonIdleTimeout            finishReason = "idleTimeout"
	finishReasonInteractionInterrupted finishReason = "interactionInterrupted"
)

// End finishes the span, unless it has already ended. If the span is a
// non-standalone root, ending it builds and captures a TransactionEvent
// containing its descendants. If it is a standalone root, it is serialized
// and sent immediately when sampled. optionalTs may supply an explicit end
// timestamp; it defaults to now().
func (s *Span) End(optionalTs ...time.Time) {
	s.endWithReason(finishReasonExternalFinish, optionalTs...)
}

func (s *Span) endWithReason(reason finishReason, optionalTs ...time.Time) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	endTime := now()
	if len(optionalTs) > 0 {
		endTime = optionalTs[0]
	}
	if endTime.Before(s.StartTime) {
		endTime = s.StartTime
	}

	// An idle span's own end is finalized (effective end time computed,
	// stragglers force-cancelled or detached) before it is marked finished,
	// so that finalize's recursive child endWithReason calls still see this
	// span as open.
	if s.idle != nil {
		endTime = s.idle.finalize(endTime)
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.EndTime = endTime
	s.mu.Unlock()

	if s.root != nil && s.root.idle != nil && s.root != s {
		s.root.idle.onChildEnd(s, endTime)
	}

	if !s.sampled {
		if s == s.Root() && s.isStandalone && s.hub != nil {
			s.hub.captureStandaloneSpan(s)
		}
		return
	}

	if s == s.Root() {
		if s.idle != nil {
			if s.Attributes == nil {
				s.Attributes = make(map[string]interface{})
			}
			s.Attributes["sentry.idle_span_finish_reason"] = string(reason)
			if s.recorder != nil {
				if discarded := s.recorder.discardedCount(); discarded > 0 {
					s.Attributes["sentry.idle_span_discarded_spans"] = discarded
				}
			}
		}
		if s.isStandalone {
			s.hub.captureStandaloneSpan(s)
		} else if s.isTransaction {
			s.hub.captureTransaction(s)
		}
	}
}

// freezeDsc computes the DynamicSamplingContext for a freshly created root
// span and freezes it. Once computed it is never recomputed for that span.
func freezeDsc(hub *Hub, root *Span) *DynamicSamplingContext {
	client := hub.Client()
	if client == nil {
		return nil
	}
	options := client.Options()
	dsc := &DynamicSamplingContext{
		TraceID: root.TraceID.String(),
	}
	if options.parsedDsn != nil {
		dsc.PublicKey = options.parsedDsn.publicKey
	}
	if options.Environment != "" {
		dsc.Environment = options.Environment
	}
	if options.Release != "" {
		dsc.Release = options.Release
	}
	if root.sampleRate != nil {
		dsc.SampleRate = root.sampleRate
	}
	sampled := root.sampled
	dsc.Sampled = &sampled
	client.emit(hookCreateDsc, root, dsc)
	return dsc
}

func (s *Span) traceContext() *TraceContext {
	return &TraceContext{
		TraceID:      s.TraceID,
		SpanID:       s.SpanID,
		ParentSpanID: s.ParentSpanID,
		Op:           s.Op,
		Description:  s.Description,
		Status:       s.Status,
	}
}

// TraceContext carries information about an ongoing trace, stored in
// Event.Contexts["trace"].
type TraceContext struct {
	TraceID      TraceID    `json:"trace_id"`
	SpanID       SpanID     `json:"span_id"`
	ParentSpanID SpanID     `json:"parent_span_id,omitempty"`
	Op           string     `json:"op,omitempty"`
	Description  string     `json:"description,omitempty"`
	Status       SpanStatus `json:"status,omitempty"`
}

// MarshalJSON renders a Span with its timestamps as float seconds since the
// epoch.
func (s *Span) MarshalJSON() ([]byte, error) {
	type spanAlias Span
	var parentSpanID string
	if !s.ParentSpanID.IsZero() {
		parentSpanID = s.ParentSpanID.String()
	}
	return json.Marshal(struct {
		*spanAlias
		ParentSpanID string  `json:"parent_span_id,omitempty"`
		StartTime    float64 `json:"start_timestamp"`
		EndTime      float64 `json:"timestamp,omitempty"`
	}{
		spanAlias:    (*spanAlias)(s),
		ParentSpanID: parentSpanID,
		StartTime:    unixSeconds(s.StartTime),
		EndTime:      unixSecondsOrZero(s.EndTime),
	})
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func unixSecondsOrZero(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return unixSeconds(t)
}
