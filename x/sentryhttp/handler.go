package sentryhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/rookwood/sentry-go-core"
)

// Options configures a Handler.
type Options struct {
	// Repanic configures whether Sentry should repanic after recovery, in
	// case you have other panic handlers.
	Repanic bool
	// WaitForDelivery configures whether you want to block the request
	// before moving forward with the response. Because Go's http.Server
	// closes the connection as soon as the handler returns, this should be
	// used when Repanic is false.
	WaitForDelivery bool
	// Timeout for the event delivery requests, defaults to 2 seconds. Only
	// used when WaitForDelivery is true.
	Timeout time.Duration
}

// Handler wraps an http.Handler or http.HandlerFunc: it attaches a
// per-request Hub (with a Request-populated Scope) to the request context,
// recovers panics, and reports them as handled exceptions.
type Handler struct {
	repanic         bool
	waitForDelivery bool
	timeout         time.Duration
}

func New(options Options) *Handler {
	timeout := options.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &Handler{
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		timeout:         timeout,
	}
}

// Handle wraps handler.
func (h *Handler) Handle(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, hub := h.withHub(r)
		r = r.WithContext(ctx)
		defer h.recoverWithSentry(hub, r)
		handler.ServeHTTP(w, r)
	})
}

// HandleFunc wraps handler.
func (h *Handler) HandleFunc(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, hub := h.withHub(r)
		r = r.WithContext(ctx)
		defer h.recoverWithSentry(hub, r)
		handler(w, r)
	}
}

func (h *Handler) withHub(r *http.Request) (context.Context, *sentry.Hub) {
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(r)
	ctx := sentry.SetHubOnContext(r.Context(), hub)
	return ctx, hub
}

func (h *Handler) recoverWithSentry(hub *sentry.Hub, r *http.Request) {
	if err := recover(); err != nil {
		eventID := hub.RecoverWithContext(
			context.WithValue(sentry.SetHubOnContext(r.Context(), hub), sentry.RequestContextKey, r),
			err,
		)
		if eventID != nil && h.waitForDelivery {
			hub.Flush(h.timeout)
		}
		if h.repanic {
			panic(err)
		}
	}
}
