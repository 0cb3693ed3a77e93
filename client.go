package sentry

import (
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"
)

// EventModifier applies a scope's enrichment data to an event in place,
// returning nil to drop the event entirely. *Scope is the only production
// implementation; tests substitute a fake to exercise the capture* methods in
// isolation.
type EventModifier interface {
	ApplyToEvent(event *Event, hint *EventHint) *Event
}

// Integration is installed once per Client at NewClient time via init, and
// can mutate ClientOptions or register event processors/hooks before any
// event flows through the pipeline.
type Integration interface {
	Name() string
	SetupOnce(client *Client)
}

// Hook identifies one of the pipeline extension points a Client emits,
// registered via Client.on and triggered via Client.emit.
type Hook string

const (
	HookSpanStart                Hook = "spanStart"
	HookSpanEnd                  Hook = "spanEnd"
	HookIdleSpanEnableAutoFinish Hook = "idleSpanEnableAutoFinish"
	HookBeforeEnvelope           Hook = "beforeEnvelope"
	HookBeforeSendEvent          Hook = "beforeSendEvent"
	HookPreprocessEvent          Hook = "preprocessEvent"
	HookAfterSendEvent           Hook = "afterSendEvent"
	HookBeforeAddBreadcrumb      Hook = "beforeAddBreadcrumb"
	hookCreateDsc                Hook = "createDsc"
	HookBeforeSendFeedback       Hook = "beforeSendFeedback"
	HookBeforeSampling           Hook = "beforeSampling"
	HookStartPageLoadSpan        Hook = "startPageLoadSpan"
	HookStartNavigationSpan      Hook = "startNavigationSpan"
	HookFlush                    Hook = "flush"
	HookClose                    Hook = "close"
	HookApplyFrameMetadata       Hook = "applyFrameMetadata"
)

// ClientOptions configures a Client. Every field is read once at NewClient
// time except Transport and the hooks/processors added later via
// AddEventProcessor/on, which may be mutated for the life of the Client (with
// the data races client_external_test.go documents as a known hazard of
// mutating a shared Client concurrently with capture calls, matching
// upstream's documented behavior).
type ClientOptions struct {
	Dsn string

	Debug bool

	// SampleRate thins non-transaction events client-side, independent of
	// tracing's TracesSampleRate/TracesSampler.
	SampleRate float64

	// TracesSampleRate and TracesSampler configure span sampling.
	// EnableTracing turns tracing on with an implicit TracesSampleRate of 1
	// when neither of the others is set.
	EnableTracing    bool
	TracesSampleRate *float64
	TracesSampler    TracesSampler

	Environment string
	Release     string
	Dist        string
	ServerName  string
	Tags        map[string]string

	MaxBreadcrumbs int

	AttachStacktrace bool
	SendDefaultPII   bool

	IgnoreErrors       []string
	IgnoreTransactions []string

	BeforeSend            func(event *Event, hint *EventHint) *Event
	BeforeSendTransaction func(event *Event, hint *EventHint) *Event
	BeforeSendSpan        func(span *Span) *Span
	BeforeBreadcrumb      func(breadcrumb *Breadcrumb, hint BreadcrumbHint) *Breadcrumb

	Integrations func(integrations []Integration) []Integration

	HTTPClient    *http.Client
	HTTPTransport http.RoundTripper
	HTTPProxy     string
	HTTPSProxy    string
	CaCerts       string

	// Transport sends prepared events/envelopes to Sentry (or nowhere, for
	// NoopTransport). Defaults to a concurrent HTTPTransport.
	Transport Transport

	// BufferSize overrides the number of envelopes a concurrent HTTPTransport
	// holds in flight before SendEnvelope starts dropping new ones. Defaults
	// to defaultBufferSize. Has no effect on HTTPSyncTransport or NoopTransport.
	BufferSize int

	MaxErrorDepth int

	parsedDsn *Dsn

	// dropHandler lets a Transport report drops it decides on its own (rate
	// limiting, a full buffer, network failures) back into the owning
	// Client's client_report accounting. Set by NewClient; not user-facing.
	dropHandler func(reason string, category Category, quantity int)
}

func (o ClientOptions) tracingEnabled() bool {
	return o.EnableTracing || o.TracesSampleRate != nil || o.TracesSampler != nil
}

const defaultMaxBreadcrumbs = 100
const defaultMaxErrorDepth = 10

// Client owns a ClientOptions, a Transport, the event pipeline, and the
// hook/integration/event-processor registries shared by every Hub bound to
// it. Unlike Scope, a Client is meant to be shared across many Hubs/tasks,
// matching the real SDK's "one Client per DSN" model.
type Client struct {
	Transport Transport

	options ClientOptions

	mu              sync.Mutex
	eventProcessors []EventProcessor
	integrations    []Integration
	hookListeners   map[Hook][]func(args ...interface{})

	dropped struct {
		sync.Mutex
		counts map[droppedKey]int
	}
}

type droppedKey struct {
	reason   string
	category Category
}

// NewClient builds a Client from options, parsing its DSN (if any),
// defaulting its Transport, and running init() — which in turn runs every
// configured Integration's SetupOnce.
func NewClient(options ClientOptions) (*Client, error) {
	if options.MaxBreadcrumbs <= 0 {
		options.MaxBreadcrumbs = defaultMaxBreadcrumbs
	}
	if options.MaxErrorDepth <= 0 {
		options.MaxErrorDepth = defaultMaxErrorDepth
	}
	if options.SampleRate == 0 {
		options.SampleRate = 1
	}

	if options.Debug {
		enableDebugLogging(os.Stderr)
	}

	if options.Dsn == "" {
		options.Dsn = os.Getenv("SENTRY_DSN")
	}
	if options.Dsn != "" {
		dsn, err := NewDsn(options.Dsn)
		if err != nil {
			return nil, err
		}
		options.parsedDsn = dsn
	}

	client := &Client{}
	client.dropped.counts = make(map[droppedKey]int)
	options.dropHandler = client.recordDroppedEvent
	client.options = options

	if client.Transport == nil {
		if options.Transport != nil {
			client.Transport = options.Transport
		} else if options.parsedDsn == nil {
			client.Transport = new(NoopTransport)
		} else {
			client.Transport = NewHTTPTransport()
		}
	}
	client.Transport.Configure(options)

	client.init()
	return client, nil
}

// Options returns the ClientOptions the Client was built with.
func (client *Client) Options() ClientOptions {
	return client.options
}

// init runs every integration's SetupOnce, applying Integrations filtering
// if configured.
func (client *Client) init() {
	integrations := defaultIntegrations()
	if client.options.Integrations != nil {
		integrations = client.options.Integrations(integrations)
	}
	for _, integration := range integrations {
		client.addIntegration(integration)
	}
}

func defaultIntegrations() []Integration {
	return []Integration{
		dedupeIntegration{},
		inboundFiltersIntegration{},
	}
}

func (client *Client) addIntegration(integration Integration) {
	client.mu.Lock()
	client.integrations = append(client.integrations, integration)
	client.mu.Unlock()
	integration.SetupOnce(client)
}

func (client *Client) getIntegrationByName(name string) Integration {
	client.mu.Lock()
	defer client.mu.Unlock()
	for _, integration := range client.integrations {
		if integration.Name() == name {
			return integration
		}
	}
	return nil
}

// AddEventProcessor registers a client-level event processor, run after
// every scope-level processor in the prepare pipeline.
func (client *Client) AddEventProcessor(processor EventProcessor) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.eventProcessors = append(client.eventProcessors, processor)
}

// On registers cb against hook, returning an unregister closure. Hooks fire
// in registration order; a panicking callback is recovered and logged so it
// cannot corrupt the pipeline for other listeners.
func (client *Client) On(hook Hook, cb func(args ...interface{})) func() {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.hookListeners == nil {
		client.hookListeners = make(map[Hook][]func(args ...interface{}))
	}
	client.hookListeners[hook] = append(client.hookListeners[hook], cb)
	idx := len(client.hookListeners[hook]) - 1
	return func() {
		client.mu.Lock()
		defer client.mu.Unlock()
		listeners := client.hookListeners[hook]
		if idx < len(listeners) {
			listeners[idx] = nil
		}
	}
}

func (client *Client) emit(hook Hook, args ...interface{}) {
	client.mu.Lock()
	listeners := append([]func(args ...interface{}){}, client.hookListeners[hook]...)
	client.mu.Unlock()
	for _, cb := range listeners {
		if cb == nil {
			continue
		}
		client.safeCall(cb, args...)
	}
}

func (client *Client) safeCall(cb func(args ...interface{}), args ...interface{}) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Printf("panic in hook callback: %v", r)
		}
	}()
	cb(args...)
}

// CaptureException builds an ErrorEvent from exception and runs it through
// the capture pipeline. scope is the EventModifier (usually a *Scope) whose
// enrichment applies.
func (client *Client) CaptureException(exception error, hint *EventHint, scope EventModifier) *EventID {
	event := client.eventFromException(exception, LevelError)
	return client.CaptureEvent(event, hint, scope)
}

// CaptureMessage builds an ErrorEvent carrying message and runs it through
// the capture pipeline.
func (client *Client) CaptureMessage(message string, hint *EventHint, scope EventModifier) *EventID {
	event := NewEvent()
	event.Level = LevelInfo
	event.Message = message
	return client.CaptureEvent(event, hint, scope)
}

// CaptureEvent runs event through the prepare/process pipeline and, if it
// survives, hands it to sendEvent.
func (client *Client) CaptureEvent(event *Event, hint *EventHint, scope EventModifier) *EventID {
	if event = client.processEvent(event, hint, scope); event == nil {
		return nil
	}
	client.sendEvent(event)
	id := event.EventID
	return &id
}

// CaptureSession sends a session envelope immediately.
func (client *Client) CaptureSession(session *Session) {
	client.sendSession(session)
}

func (client *Client) eventFromException(exception error, level Level) *Event {
	event := NewEvent()
	event.Level = level

	err := exception
	depth := 0
	for err != nil && depth < client.options.MaxErrorDepth {
		exc := Exception{
			Value: err.Error(),
			Type:  reflect.TypeOf(err).String(),
		}
		if client.options.AttachStacktrace {
			if trace := ExtractStacktrace(err); trace != nil {
				exc.Stacktrace = trace
			}
		}
		event.Exception = append([]Exception{exc}, event.Exception...)

		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
		depth++
	}
	return event
}

// processEvent runs the prepare → dedupe/filter → beforeSend pipeline.
// Returns nil if the event should not be sent, recording a drop via
// recordDroppedEvent for every point of rejection.
func (client *Client) processEvent(event *Event, hint *EventHint, scope EventModifier) *Event {
	category := categoryForEvent(event)

	if event.Type != transactionType && !sample(client.options.SampleRate) {
		client.recordDroppedEvent("sample_rate", category, 1)
		return nil
	}

	client.emit(HookPreprocessEvent, event, hint)
	client.prepareEvent(event)

	if scope != nil {
		event = scope.ApplyToEvent(event, hint)
		if event == nil {
			client.recordDroppedEvent("event_processor", category, 1)
			return nil
		}
	}

	client.mu.Lock()
	processors := append([]EventProcessor{}, client.eventProcessors...)
	client.mu.Unlock()
	for _, processor := range processors {
		event = processor(event, hint)
		if event == nil {
			client.recordDroppedEvent("event_processor", category, 1)
			return nil
		}
	}

	if event.Type == transactionType {
		if client.options.BeforeSendSpan != nil {
			filtered := event.Spans[:0]
			for _, span := range event.Spans {
				if s := client.options.BeforeSendSpan(span); s != nil {
					filtered = append(filtered, s)
				}
			}
			event.Spans = filtered
		}
		if client.options.BeforeSendTransaction != nil {
			if event.SdkProcessingMetadata == nil {
				event.SdkProcessingMetadata = make(map[string]interface{})
			}
			event.SdkProcessingMetadata["spanCountBeforeProcessing"] = len(event.Spans)
			event = client.options.BeforeSendTransaction(event, hint)
		}
	} else if client.options.BeforeSend != nil {
		event = client.options.BeforeSend(event, hint)
	}
	if event == nil {
		client.recordDroppedEvent("before_send", category, 1)
		return nil
	}

	client.emit(HookBeforeSendEvent, event, hint)
	return event
}

func categoryForEvent(event *Event) Category {
	if event.Type == transactionType {
		return CategoryTransaction
	}
	return CategoryError
}

// prepareEvent fills in defaults the caller didn't set: event_id, timestamp,
// platform, server name, release/environment/dist, sdk info, tags.
func (client *Client) prepareEvent(event *Event) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.Timestamp == 0 {
		event.Timestamp = now().Unix()
	}
	if event.Platform == "" {
		event.Platform = "go"
	}
	if event.ServerName == "" {
		event.ServerName = client.options.ServerName
	}
	if event.Release == "" {
		event.Release = client.options.Release
	}
	if event.Environment == "" {
		event.Environment = client.options.Environment
	}
	if event.Dist == "" {
		event.Dist = client.options.Dist
	}
	event.Sdk = SdkInfo{Name: SDKIdentifier, Version: SDKVersion}
	for k, v := range client.options.Tags {
		if event.Tags == nil {
			event.Tags = make(map[string]string)
		}
		if _, ok := event.Tags[k]; !ok {
			event.Tags[k] = v
		}
	}
}

func (client *Client) sendEvent(event *Event) {
	var dsc *DynamicSamplingContext
	if d, ok := event.SdkProcessingMetadata["dsc"].(*DynamicSamplingContext); ok {
		dsc = d
	}
	header := client.envelopeHeader(dsc)
	envelope := NewEnvelope(header)
	if err := envelope.AddEventItem(event); err != nil {
		Logger.Printf("failed to marshal event: %v", err)
		return
	}
	client.sendEnvelope(envelope)
}

func (client *Client) sendSession(session *Session) {
	header := client.envelopeHeader(nil)
	envelope := NewEnvelope(header)
	if err := envelope.AddSessionItem(session); err != nil {
		Logger.Printf("failed to marshal session: %v", err)
		return
	}
	client.sendEnvelope(envelope)
}

func (client *Client) envelopeHeader(dsc *DynamicSamplingContext) EnvelopeHeader {
	header := EnvelopeHeader{
		Sdk:   &SdkInfo{Name: SDKIdentifier, Version: SDKVersion},
		Trace: dsc,
	}
	if client.options.parsedDsn != nil {
		header.Dsn = client.options.parsedDsn.String()
	}
	return header
}

func (client *Client) sendEnvelope(envelope *Envelope) {
	client.emit(HookBeforeEnvelope, envelope)
	client.Transport.SendEnvelope(envelope)
	client.emit(HookAfterSendEvent, envelope)
}

// recordDroppedEvent implements Client.recordDroppedEvent: an aggregate
// count of events not sent, by (reason, category), surfaced as a
// client_report item the next time outcomes flush.
func (client *Client) recordDroppedEvent(reason string, category Category, count int) {
	client.dropped.Lock()
	defer client.dropped.Unlock()
	client.dropped.counts[droppedKey{reason, category}] += count
}

func (client *Client) drainDroppedEvents() []DiscardedEvent {
	client.dropped.Lock()
	defer client.dropped.Unlock()
	if len(client.dropped.counts) == 0 {
		return nil
	}
	discarded := make([]DiscardedEvent, 0, len(client.dropped.counts))
	for key, quantity := range client.dropped.counts {
		discarded = append(discarded, DiscardedEvent{
			Reason:   key.reason,
			Category: string(key.category),
			Quantity: quantity,
		})
	}
	client.dropped.counts = make(map[droppedKey]int)
	return discarded
}

// flushClientReports builds and sends a client_report envelope item
// summarizing events dropped since the last flush, if any.
func (client *Client) flushClientReports() {
	discarded := client.drainDroppedEvents()
	if len(discarded) == 0 {
		return
	}
	envelope := NewEnvelope(client.envelopeHeader(nil))
	_ = envelope.AddClientReportItem(ClientReportPayload{
		Timestamp:       now(),
		DiscardedEvents: discarded,
	})
	client.sendEnvelope(envelope)
}

// Flush waits up to timeout for the Transport's send buffer to drain,
// flushing pending client reports first.
func (client *Client) Flush(timeout time.Duration) bool {
	client.flushClientReports()
	client.emit(HookFlush)
	return client.Transport.Flush(timeout)
}

// Close flushes then releases the Transport's resources.
func (client *Client) Close(timeout time.Duration) bool {
	ok := client.Flush(timeout)
	client.emit(HookClose)
	client.Transport.Close()
	return ok
}

// sample draws a single client-side sampling decision for rate: 1 always
// keeps, 0 (or below) always drops.
func sample(rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return rand.Float64() < rate
}

// captureStandaloneSpan serializes and sends a sampled standalone span
// directly as a span envelope. An unsampled standalone span instead records
// a drop (category span, reason sample_rate).
func (hub *Hub) captureStandaloneSpan(span *Span) {
	client := hub.Client()
	if client == nil {
		return
	}
	if !span.sampled {
		client.recordDroppedEvent("sample_rate", CategorySpan, 1)
		return
	}
	header := client.envelopeHeader(span.dsc)
	envelope := NewEnvelope(header)
	if err := envelope.AddSpanItem(span); err != nil {
		Logger.Printf("failed to marshal span: %v", err)
		return
	}
	client.sendEnvelope(envelope)
}

// captureTransaction builds a TransactionEvent from a finished, non-standalone
// root span and its recorded descendants, and feeds it through the scope's
// captureEvent.
func (hub *Hub) captureTransaction(root *Span) {
	client := hub.Client()
	if client == nil {
		return
	}
	event := NewTransactionEvent()
	event.Transaction = root.Description
	event.StartTime = root.StartTime.Unix()
	event.Contexts = map[string]interface{}{"trace": root.traceContext()}
	event.Tags = root.Tags
	if source, ok := root.Attributes["sentry.source"].(string); ok && source != "" {
		event.TransactionInfo = &TransactionInfo{Source: source}
	}

	if root.recorder != nil {
		event.Spans = root.recorder.children()
		if discarded := root.recorder.discardedCount(); discarded > 0 {
			client.recordDroppedEvent("sample_rate", CategorySpan, discarded)
		}
	}
	event.Measurements = measurementsFromSpans(append([]*Span{root}, event.Spans...))
	event.SdkProcessingMetadata["dsc"] = root.dsc

	id := hub.Scope().captureEvent(event, &EventHint{})
	if id != nil {
		hub.setLastEventID(*id)
	}
}

// measurementsFromSpans collects sentry.measurement_value/_unit pairs off
// every span event in spans into the measurements map attached to the final
// transaction.
func measurementsFromSpans(spans []*Span) map[string]Measurement {
	var measurements map[string]Measurement
	for _, span := range spans {
		for _, event := range span.events {
			value, hasValue := event.Attributes["sentry.measurement_value"]
			if !hasValue {
				continue
			}
			v, ok := toFloat64(value)
			if !ok {
				continue
			}
			unit, _ := event.Attributes["sentry.measurement_unit"].(string)
			if measurements == nil {
				measurements = make(map[string]Measurement)
			}
			measurements[event.Name] = Measurement{Value: v, Unit: unit}
		}
	}
	return measurements
}

func toFloat64(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	}
	return 0, false
}

// dedupeIntegration drops an error event that repeats the immediately
// preceding one sent by the same client: same exception type/value and, when
// present, the same top stacktrace frame. Modeled as a client-level event
// processor rather than a scope processor since the "last sent" state must
// be shared process-wide for a Client, not per-scope.
type dedupeIntegration struct{}

func (dedupeIntegration) Name() string { return "Dedupe" }

func (i dedupeIntegration) SetupOnce(client *Client) {
	var mu sync.Mutex
	var lastFingerprint string
	client.AddEventProcessor(func(event *Event, hint *EventHint) *Event {
		if event.Type == transactionType || len(event.Exception) == 0 {
			return event
		}
		fp := dedupeFingerprint(event)
		mu.Lock()
		defer mu.Unlock()
		if fp != "" && fp == lastFingerprint {
			return nil
		}
		lastFingerprint = fp
		return event
	})
}

func dedupeFingerprint(event *Event) string {
	last := event.Exception[len(event.Exception)-1]
	fp := last.Type + ":" + last.Value
	if last.Stacktrace != nil && len(last.Stacktrace.Frames) > 0 {
		top := last.Stacktrace.Frames[len(last.Stacktrace.Frames)-1]
		fp += fmt.Sprintf(":%s:%d", top.AbsPath, top.Lineno)
	}
	return fp
}

// inboundFiltersIntegration drops events whose message (or, for an event with
// no message, top exception value) contains any of ClientOptions.IgnoreErrors
// (for error events) or whose
// transaction name matches IgnoreTransactions (for transactions), matching
// sentry-javascript's inboundFilters integration.
type inboundFiltersIntegration struct{}

func (inboundFiltersIntegration) Name() string { return "InboundFilters" }

func (i inboundFiltersIntegration) SetupOnce(client *Client) {
	options := client.options
	client.AddEventProcessor(func(event *Event, hint *EventHint) *Event {
		if event.Type == transactionType {
			for _, pattern := range options.IgnoreTransactions {
				if matchIgnorePattern(event.Transaction, pattern) {
					return nil
				}
			}
			return event
		}
		text := event.Message
		if text == "" && len(event.Exception) > 0 {
			text = event.Exception[len(event.Exception)-1].Value
		}
		for _, pattern := range options.IgnoreErrors {
			if matchIgnorePattern(text, pattern) {
				return nil
			}
		}
		return event
	})
}

func matchIgnorePattern(text, pattern string) bool {
	if text == "" || pattern == "" {
		return false
	}
	return strings.Contains(text, pattern)
}
