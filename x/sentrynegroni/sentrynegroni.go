// Package sentrynegroni provides Sentry integration for the Negroni
// middleware stack.
package sentrynegroni

import (
	"net/http"
	"time"

	"github.com/urfave/negroni"

	"github.com/rookwood/sentry-go-core"
)

// Options configures New.
type Options struct {
	Repanic         bool
	WaitForDelivery bool
	Timeout         time.Duration
}

// New returns a negroni.Handler that attaches a per-request Hub to the
// request context, recovers panics, and reports them as handled exceptions.
func New(options Options) negroni.Handler {
	timeout := options.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return negroni.HandlerFunc(func(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(r)
		ctx := sentry.SetHubOnContext(r.Context(), hub)
		r = r.WithContext(ctx)

		defer func() {
			if err := recover(); err != nil {
				eventID := hub.RecoverWithContext(r.Context(), err)
				if eventID != nil && options.WaitForDelivery {
					hub.Flush(timeout)
				}
				if options.Repanic {
					panic(err)
				}
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()

		next(w, r)
	})
}

// GetHubFromContext retrieves the Hub instance attached to r's context by the
// middleware returned from New, or nil if the middleware was never run for
// this request.
func GetHubFromContext(r *http.Request) *sentry.Hub {
	return sentry.GetHubFromContext(r.Context())
}
