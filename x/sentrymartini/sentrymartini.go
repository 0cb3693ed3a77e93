// Package sentrymartini provides Sentry integration for the Martini web
// framework.
package sentrymartini

import (
	"net/http"
	"time"

	"github.com/go-martini/martini"

	"github.com/rookwood/sentry-go-core"
)

// Options configures New.
type Options struct {
	Repanic         bool
	WaitForDelivery bool
	Timeout         time.Duration
}

// New returns a martini.Handler that maps a per-request Hub into the
// martini.Context (injected as *sentry.Hub for downstream handlers to
// request), recovers panics, and reports them as handled exceptions.
func New(options Options) martini.Handler {
	timeout := options.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return func(c martini.Context, w http.ResponseWriter, r *http.Request) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(r)
		c.Map(hub)

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

		c.Next()
	}
}
