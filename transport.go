package sentry

import (
	"bytes"
	"compress/gzip"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

// Transport sends prepared events/envelopes to Sentry. Configure is called
// once, by NewClient, before any Send* call.
type Transport interface {
	Configure(options ClientOptions)
	SendEvent(event *Event)
	SendEnvelope(envelope *Envelope)
	Flush(timeout time.Duration) bool
	Close()
}

// defaultBufferSize bounds the number of in-flight envelopes a concurrent
// HTTPTransport will hold before SendEnvelope starts dropping new ones.
// Override via ClientOptions.BufferSize.
const defaultBufferSize = 64

const defaultHTTPTimeout = 30 * time.Second

// configureHTTPTransport builds the http.RoundTripper a Transport's
// http.Client uses to actually dial Sentry, honoring ClientOptions.HTTPProxy
// / HTTPSProxy / CaCerts the way a client behind a corporate proxy or a
// private CA needs. options.HTTPTransport always wins when set: proxy/CA
// settings are meant as a convenience for the common case, not a second way
// to configure a transport that already brought its own.
func configureHTTPTransport(options ClientOptions) http.RoundTripper {
	if options.HTTPTransport != nil {
		return options.HTTPTransport
	}
	if options.HTTPProxy == "" && options.HTTPSProxy == "" && options.CaCerts == "" {
		return nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	if options.HTTPProxy != "" || options.HTTPSProxy != "" {
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			proxy := options.HTTPSProxy
			if req.URL.Scheme == schemeHTTP {
				proxy = options.HTTPProxy
			}
			if proxy == "" {
				return http.ProxyFromEnvironment(req)
			}
			return url.Parse(proxy)
		}
	}

	if options.CaCerts != "" {
		rootCAs, err := loadCaCerts(options.CaCerts)
		if err != nil {
			Logger.Printf("failed to load CaCerts %q: %v", options.CaCerts, err)
		} else {
			transport.TLSClientConfig = &tls.Config{RootCAs: rootCAs}
		}
	}

	return transport
}

var errCaCertsNotPEM = fmt.Errorf("no certificates found in CaCerts file")

func loadCaCerts(path string) (*x509.CertPool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b) {
		return nil, errCaCertsNotPEM
	}
	return pool, nil
}

// getRequestBodyFromEvent marshals event to JSON. If marshaling fails because
// the event carries unserializable data in one of its interface{}-typed
// fields (Breadcrumbs[].Data, Extra, Contexts), it retries without the
// breadcrumbs and contexts and with Extra replaced by an explanatory note
// (the event itself is left as it was), matching the "best effort"
// contract real Sentry clients apply: a single bad field in Extra shouldn't
// lose an otherwise valid error report. Returns nil if the event still can't
// be marshaled (e.g. bad data buried in a Stacktrace Frame's Vars).
func getRequestBodyFromEvent(event *Event) []byte {
	body, err := json.Marshal(event)
	if err == nil {
		return body
	}

	breadcrumbs := event.Breadcrumbs
	extra := event.Extra
	contexts := event.Contexts

	hadUnserializableField := false
	for _, b := range breadcrumbs {
		if b.Data != nil {
			hadUnserializableField = true
		}
	}
	if len(extra) > 0 || len(contexts) > 0 {
		hadUnserializableField = true
	}
	if !hadUnserializableField {
		Logger.Printf("Failed to marshal event: %v", err)
		return nil
	}

	event.Breadcrumbs = nil
	event.Extra = map[string]interface{}{
		"info": "Original event couldn't be marshalled. Succeeded by stripping the data " +
			"that uses interface{} type. Please verify that the data you attach to the scope is serializable.",
	}
	event.Contexts = nil

	body, err = json.Marshal(event)
	event.Breadcrumbs = breadcrumbs
	event.Extra = extra
	event.Contexts = contexts
	if err != nil {
		Logger.Printf("Failed to marshal event even after stripping interface{} fields: %v", err)
		return nil
	}
	return body
}

// retryAfter computes the duration to wait before the next request, per the
// Retry-After header of r (seconds or an HTTP-date), defaulting to 60s if
// absent or malformed.
func retryAfter(now time.Time, r *http.Response) time.Duration {
	const defaultRetryAfter = 60 * time.Second
	if r == nil {
		return defaultRetryAfter
	}
	header := r.Header.Get("Retry-After")
	if header == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if date, err := http.ParseTime(header); err == nil {
		return date.Sub(now)
	}
	return defaultRetryAfter
}

// transportTask is one item queued for delivery by a concurrent HTTPTransport.
type transportTask struct {
	envelope *Envelope
	category Category
}

// HTTPTransport sends envelopes over HTTP(S) through a bounded buffer served
// by a single worker goroutine. New envelopes submitted once the buffer is
// full are dropped and accounted as client_report outcomes the next time the
// owning Client flushes.
type HTTPTransport struct {
	// BufferSize is the maximum number of envelopes this transport will hold
	// concurrently in flight. Defaults to defaultBufferSize; overridden by
	// ClientOptions.BufferSize when set through Configure.
	BufferSize int

	dsn         *Dsn
	client      *http.Client
	rateLimits  RateLimits
	dropHandler func(reason string, category Category, quantity int)

	mu sync.Mutex

	start    sync.Once
	tasks    chan transportTask
	done     chan struct{}
	wg       sync.WaitGroup
	inFlight sync.WaitGroup
	limitMu  sync.Mutex
}

// NewHTTPTransport returns an HTTPTransport with the default buffer size.
// Call Configure before use; NewClient does this automatically.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{BufferSize: defaultBufferSize}
}

// dsnFromOptions returns the DSN NewClient already parsed into options, or
// parses options.Dsn when Configure is called with only the string set.
func dsnFromOptions(options ClientOptions) *Dsn {
	if options.parsedDsn != nil || options.Dsn == "" {
		return options.parsedDsn
	}
	dsn, err := NewDsn(options.Dsn)
	if err != nil {
		Logger.Printf("invalid DSN: %v", err)
		return nil
	}
	return dsn
}

func (t *HTTPTransport) Configure(options ClientOptions) {
	t.dsn = dsnFromOptions(options)
	t.dropHandler = options.dropHandler
	if options.BufferSize > 0 {
		t.BufferSize = options.BufferSize
	}
	if t.BufferSize <= 0 {
		t.BufferSize = defaultBufferSize
	}
	t.client = options.HTTPClient
	if t.client == nil {
		t.client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if rt := configureHTTPTransport(options); rt != nil {
		t.client.Transport = rt
	}
	t.tasks = make(chan transportTask, t.BufferSize)
	t.done = make(chan struct{})
	t.start.Do(func() {
		t.wg.Add(1)
		go t.worker()
	})
}

func (t *HTTPTransport) worker() {
	defer t.wg.Done()
	for task := range t.tasks {
		t.deliver(task)
		t.inFlight.Done()
	}
}

// recordDrop reports a transport-side drop back to the owning Client, if
// one was wired in via Configure. Called for every item in an envelope the
// transport itself decided not to (or could not) send.
func (t *HTTPTransport) recordDrop(reason string, category Category, quantity int) {
	if t.dropHandler == nil || quantity <= 0 {
		return
	}
	t.dropHandler(reason, category, quantity)
}

func (t *HTTPTransport) deliver(task transportTask) {
	if t.dsn == nil {
		return
	}
	t.limitMu.Lock()
	limited := t.rateLimits.IsRateLimited(task.category)
	t.limitMu.Unlock()
	if limited {
		Logger.Printf("category %q is rate limited, dropping envelope", task.category)
		t.recordDrop("ratelimit_backoff", task.category, len(task.envelope.Items))
		return
	}

	body, err := task.envelope.Serialize()
	if err != nil {
		Logger.Printf("failed to serialize envelope: %v", err)
		return
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(body); err != nil {
		Logger.Printf("failed to gzip envelope: %v", err)
		return
	}
	if err := gz.Close(); err != nil {
		Logger.Printf("failed to gzip envelope: %v", err)
		return
	}

	endpoint := t.dsn.EnvelopeEndpoint()
	req, err := http.NewRequest(http.MethodPost, endpoint, &buf)
	if err != nil {
		Logger.Printf("failed to build envelope request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-sentry-envelope")
	req.Header.Set("Content-Encoding", "gzip")
	for k, v := range t.dsn.RequestHeaders() {
		if k == "Content-Type" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		Logger.Printf("failed to send envelope: %v", err)
		t.recordDrop("network_error", task.category, len(task.envelope.Items))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	t.limitMu.Lock()
	t.rateLimits = t.rateLimits.updateFromResponse(resp)
	t.limitMu.Unlock()

	if resp.StatusCode >= 400 {
		Logger.Printf("sentry server responded %d while sending envelope", resp.StatusCode)
	}
}

func (t *HTTPTransport) SendEvent(event *Event) {
	envelope := NewEnvelope(EnvelopeHeader{Dsn: dsnString(t.dsn)})
	if err := envelope.AddEventItem(event); err != nil {
		Logger.Printf("failed to marshal event: %v", err)
		return
	}
	t.SendEnvelope(envelope)
}

func (t *HTTPTransport) SendEnvelope(envelope *Envelope) {
	category := categoryForEnvelope(envelope)
	// inFlight is incremented before the task is handed to the channel so
	// Flush can never observe a task as neither queued nor in flight: the
	// worker only calls Done once delivery (not just dequeue) finishes.
	t.inFlight.Add(1)
	select {
	case t.tasks <- transportTask{envelope: envelope, category: category}:
	default:
		t.inFlight.Done()
		Logger.Printf("transport buffer full (%d), dropping envelope", t.BufferSize)
		t.recordDrop("queue_overflow", category, len(envelope.Items))
	}
}

// Flush blocks until every envelope submitted before the call has actually
// been delivered — including one the worker may already be mid-send on, not
// just dequeued — or timeout elapses.
func (t *HTTPTransport) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (t *HTTPTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tasks != nil {
		close(t.tasks)
		t.wg.Wait()
		t.tasks = nil
	}
}

func categoryForEnvelope(envelope *Envelope) Category {
	for _, item := range envelope.Items {
		switch item.Header.Type {
		case envelopeItemTransaction:
			return CategoryTransaction
		case envelopeItemSpan:
			return CategorySpan
		case envelopeItemSession, envelopeItemSessions:
			return CategorySession
		case envelopeItemAttachment:
			return CategoryAttachment
		}
	}
	return CategoryError
}

func dsnString(dsn *Dsn) string {
	if dsn == nil {
		return ""
	}
	return dsn.String()
}

// HTTPSyncTransport is the synchronous counterpart to HTTPTransport: every
// SendEvent/SendEnvelope call blocks until the request completes. Useful in
// short-lived programs (CLIs, Lambda handlers) where a background worker
// goroutine might not get scheduled again before the process exits.
type HTTPSyncTransport struct {
	dsn         *Dsn
	client      *http.Client
	rateLimits  RateLimits
	dropHandler func(reason string, category Category, quantity int)
	mu          sync.Mutex
}

func NewHTTPSyncTransport() *HTTPSyncTransport {
	return &HTTPSyncTransport{}
}

func (t *HTTPSyncTransport) Configure(options ClientOptions) {
	t.dsn = dsnFromOptions(options)
	t.dropHandler = options.dropHandler
	t.client = options.HTTPClient
	if t.client == nil {
		t.client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if rt := configureHTTPTransport(options); rt != nil {
		t.client.Transport = rt
	}
}

func (t *HTTPSyncTransport) recordDrop(reason string, category Category, quantity int) {
	if t.dropHandler == nil || quantity <= 0 {
		return
	}
	t.dropHandler(reason, category, quantity)
}

func (t *HTTPSyncTransport) SendEvent(event *Event) {
	envelope := NewEnvelope(EnvelopeHeader{Dsn: dsnString(t.dsn)})
	if err := envelope.AddEventItem(event); err != nil {
		Logger.Printf("failed to marshal event: %v", err)
		return
	}
	t.SendEnvelope(envelope)
}

func (t *HTTPSyncTransport) SendEnvelope(envelope *Envelope) {
	if t.dsn == nil {
		return
	}
	category := categoryForEnvelope(envelope)
	t.mu.Lock()
	limited := t.rateLimits.IsRateLimited(category)
	t.mu.Unlock()
	if limited {
		Logger.Printf("category %q is rate limited, dropping envelope", category)
		t.recordDrop("ratelimit_backoff", category, len(envelope.Items))
		return
	}

	body, err := envelope.Serialize()
	if err != nil {
		Logger.Printf("failed to serialize envelope: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, t.dsn.EnvelopeEndpoint(), bytes.NewReader(body))
	if err != nil {
		Logger.Printf("failed to build envelope request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-sentry-envelope")
	for k, v := range t.dsn.RequestHeaders() {
		if k == "Content-Type" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		Logger.Printf("failed to send envelope: %v", err)
		t.recordDrop("network_error", category, len(envelope.Items))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	t.mu.Lock()
	t.rateLimits = t.rateLimits.updateFromResponse(resp)
	t.mu.Unlock()
}

func (t *HTTPSyncTransport) Flush(time.Duration) bool { return true }
func (t *HTTPSyncTransport) Close()                   {}

// NoopTransport discards everything sent to it, used when no DSN is
// configured: the SDK stays fully functional (spans, scopes, breadcrumbs all
// still work) but nothing leaves the process.
type NoopTransport struct{}

func (t *NoopTransport) Configure(ClientOptions) {
	Logger.Println("no DSN configured, events will be discarded")
}
func (t *NoopTransport) SendEvent(*Event)         {}
func (t *NoopTransport) SendEnvelope(*Envelope)   {}
func (t *NoopTransport) Flush(time.Duration) bool { return true }
func (t *NoopTransport) Close()                   {}
