package sentryhttp

import (
	"context"
	"net/http"

	"github.com/rookwood/sentry-go-core"
)

// NewTransport wraps rt so that outbound requests made with it carry the
// sentry-trace/baggage headers of the span active in the request's context.
// Callers still need to build requests with http.NewRequestWithContext to
// carry that context; it won't work with non-context-aware helpers like
// http.Get.
func NewTransport(rt http.RoundTripper) http.RoundTripper {
	return &roundTripper{next: rt}
}

// roundTripper wraps an http.RoundTripper, attaching the active span's
// sentry-trace/baggage headers (if the request's context carries one) to
// every outgoing request before delegating.
type roundTripper struct {
	next http.RoundTripper
}

func (t *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if span := sentry.SpanFromContext(req.Context()); !span.TraceID.IsZero() {
		req = req.Clone(req.Context())
		req.Header.Set("sentry-trace", span.ToSentryTrace())
		if baggage := span.ToBaggage(); baggage != "" {
			req.Header.Set("baggage", baggage)
		}
	}
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(req)
}

// defaultClient is the http.Client used by Get, Head, and Post.
//
// To customize the client, create a new http.Client and use NewTransport to
// wrap the client's transport.
var defaultClient = &http.Client{Transport: NewTransport(http.DefaultTransport)}

// Get issues a GET to the specified URL. It is a shortcut for http.Get with a
// context.
//
// See the Go standard library documentation for net/http for details.
//
// When err is nil, resp always contains a non-nil resp.Body.
// Caller should close resp.Body when done reading from it.
//
// To make a custom request, create a client with a transport wrapped by
// NewTransport and use http.NewRequestWithContext and http.Client.Do.
func Get(ctx context.Context, url string) (resp *http.Response, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	return defaultClient.Do(req)
}
