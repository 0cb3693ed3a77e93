package sentry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Protocol Docs (kinda)
// https://github.com/getsentry/rust-sentry-types/blob/master/src/protocol/v7.rs

// Level marks the severity of the event
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// https://docs.sentry.io/development/sdk-dev/event-payloads/sdk/
type SdkInfo struct {
	Name         string       `json:"name,omitempty"`
	Version      string       `json:"version,omitempty"`
	Integrations []string     `json:"integrations,omitempty"`
	Packages     []SdkPackage `json:"packages,omitempty"`
}

type SdkPackage struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// TODO: This type could be more useful, as map of interface{} is too generic
// and requires a lot of type assertions in beforeBreadcrumb calls
// plus it could just be `map[string]interface{}` then
type BreadcrumbHint map[string]interface{}

// https://docs.sentry.io/development/sdk-dev/event-payloads/breadcrumbs/
type Breadcrumb struct {
	Category  string                 `json:"category,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Level     Level                  `json:"level,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
	Type      string                 `json:"type,omitempty"`
}

// https://docs.sentry.io/development/sdk-dev/event-payloads/user/
type User struct {
	Email     string `json:"email,omitempty"`
	ID        string `json:"id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Username  string `json:"username,omitempty"`
}

// https://docs.sentry.io/development/sdk-dev/event-payloads/request/
type Request struct {
	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Data        string            `json:"data,omitempty"`
	QueryString string            `json:"query_string,omitempty"`
	Cookies     string            `json:"cookies,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

func (r Request) FromHTTPRequest(request *http.Request) Request {
	// Method
	r.Method = request.Method

	// URL
	protocol := schemeHTTP
	if request.TLS != nil || request.Header.Get("X-Forwarded-Proto") == "https" {
		protocol = schemeHTTPS
	}
	r.URL = fmt.Sprintf("%s://%s%s", protocol, request.Host, request.URL.Path)

	// Headers
	headers := make(map[string]string, len(request.Header))
	for k, v := range request.Header {
		headers[k] = strings.Join(v, ",")
	}
	headers["Host"] = request.Host
	r.Headers = headers

	// Cookies
	r.Cookies = request.Header.Get("Cookie")

	// Env
	if addr, port, err := net.SplitHostPort(request.RemoteAddr); err == nil {
		r.Env = map[string]string{"REMOTE_ADDR": addr, "REMOTE_PORT": port}
	}

	// QueryString
	r.QueryString = request.URL.RawQuery

	// Body
	r.Data = ReadRequestBody(request, maxRequestBodySize)

	return r
}

const maxRequestBodySize = 20 * 1024

// ReadRequestBody reads up to maxSize bytes of request's body for attaching
// to a Request payload, then rewinds request.Body so downstream handlers see
// the full, unconsumed body. Returns "" on any read error rather than a
// truncated body, since a partial read can cut PII scrubbing short.
func ReadRequestBody(request *http.Request, maxSize int64) string {
	var buf bytes.Buffer
	body := request.Body
	_, err := io.CopyN(&buf, body, maxSize)
	request.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(buf.Bytes()), body),
		Closer: body,
	}

	if err != nil && err != io.EOF {
		// TODO: set _meta information in the Sentry Request Payload to indicate
		// why the request body is missing.
		Logger.Printf("failed to read request body: %v", err)
		return ""
	}
	return buf.String()
}

// readCloser combines an io.Reader and an io.Closer to implement io.ReadCloser.
type readCloser struct {
	io.Reader
	io.Closer
}

// https://docs.sentry.io/development/sdk-dev/event-payloads/exception/
type Exception struct {
	Type          string      `json:"type,omitempty"`
	Value         string      `json:"value,omitempty"`
	Module        string      `json:"module,omitempty"`
	Stacktrace    *Stacktrace `json:"stacktrace,omitempty"`
	RawStacktrace *Stacktrace `json:"raw_stacktrace,omitempty"`
	Mechanism     *Mechanism  `json:"mechanism,omitempty"`
}

// Mechanism describes how an exception was captured: handled (recovered by
// user code / middleware) or not (propagated out of the program, e.g. an
// unrecovered panic).
type Mechanism struct {
	Type    string `json:"type,omitempty"`
	Handled *bool  `json:"handled,omitempty"`
}

type EventID string

// https://docs.sentry.io/development/sdk-dev/event-payloads/
type Event struct {
	Breadcrumbs []*Breadcrumb          `json:"breadcrumbs,omitempty"`
	Contexts    map[string]interface{} `json:"contexts,omitempty"`
	Dist        string                 `json:"dist,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	EventID     EventID                `json:"event_id,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
	Fingerprint []string               `json:"fingerprint,omitempty"`
	Level       Level                  `json:"level,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Platform    string                 `json:"platform,omitempty"`
	Release     string                 `json:"release,omitempty"`
	Sdk         SdkInfo                `json:"sdk,omitempty"`
	ServerName  string                 `json:"server_name,omitempty"`
	Threads     []Thread               `json:"threads,omitempty"`
	Tags        map[string]string      `json:"tags,omitempty"`
	Timestamp   int64                  `json:"timestamp,omitempty"`
	Transaction string                 `json:"transaction,omitempty"`
	User        User                   `json:"user,omitempty"`
	Logger      string                 `json:"logger,omitempty"`
	Modules     map[string]string      `json:"modules,omitempty"`
	Request     *Request               `json:"request,omitempty"`
	Exception   []Exception            `json:"exception,omitempty"`

	// Type distinguishes a TransactionEvent ("transaction") from a plain
	// ErrorEvent (empty/unset). Spans, StartTime, Measurements and
	// TransactionInfo are only meaningful when Type == transactionType.
	Type            string                 `json:"type,omitempty"`
	StartTime       int64                  `json:"start_timestamp,omitempty"`
	Spans           []*Span                `json:"spans,omitempty"`
	TransactionInfo *TransactionInfo       `json:"transaction_info,omitempty"`
	Measurements    map[string]Measurement `json:"measurements,omitempty"`

	// SdkProcessingMetadata carries pipeline-internal bookkeeping (e.g. the
	// frozen DSC, the pre-beforeSendTransaction span count). It is never
	// transmitted: stripped before envelope construction.
	SdkProcessingMetadata map[string]interface{} `json:"-"`
}

const transactionType = "transaction"

// TransactionInfo carries the source of the transaction name, e.g. "custom",
// "url", "route", "component", "task".
type TransactionInfo struct {
	Source string `json:"source,omitempty"`
}

// Measurement is a single named numeric measurement attached to a
// transaction, derived from span events carrying sentry.measurement_value /
// sentry.measurement_unit attributes.
type Measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

func NewEvent() *Event {
	event := Event{
		Contexts:              make(map[string]interface{}),
		Extra:                 make(map[string]interface{}),
		Tags:                  make(map[string]string),
		Modules:               make(map[string]string),
		SdkProcessingMetadata: make(map[string]interface{}),
	}
	return &event
}

// NewTransactionEvent returns an empty TransactionEvent-shaped Event.
func NewTransactionEvent() *Event {
	event := NewEvent()
	event.Type = transactionType
	return event
}

type Thread struct {
	ID            string      `json:"id,omitempty"`
	Name          string      `json:"name,omitempty"`
	Stacktrace    *Stacktrace `json:"stacktrace,omitempty"`
	RawStacktrace *Stacktrace `json:"raw_stacktrace,omitempty"`
	Crashed       bool        `json:"crashed,omitempty"`
	Current       bool        `json:"current,omitempty"`
}

// requestContextKey is the type of RequestContextKey, unexported so only
// sentry.RequestContextKey can produce a matching context.Value lookup.
type requestContextKey struct{}

// RequestContextKey is the context.Value key an HTTP server integration
// stores the in-flight *http.Request under, so a BeforeSend hook running
// later in the pipeline can recover it from EventHint.Context.
var RequestContextKey = requestContextKey{}

type EventHint struct {
	Data               interface{}
	EventID            string
	OriginalException  error
	RecoveredException interface{}
	Context            context.Context
	Request            *http.Request
	Response           *http.Response
}
