// Package sentryiris provides Sentry integration for the Iris web framework.
package sentryiris

import (
	"time"

	"github.com/kataras/iris"

	"github.com/rookwood/sentry-go-core"
)

const valuesKey = "sentry"

// Options configures New.
type Options struct {
	Repanic         bool
	WaitForDelivery bool
	Timeout         time.Duration
}

// New returns an iris.Handler that attaches a per-request Hub to ctx,
// recovers panics, and reports them as handled exceptions.
func New(options Options) iris.Handler {
	timeout := options.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return func(ctx iris.Context) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(ctx.Request())
		ctx.Values().Set(valuesKey, hub)

		defer func() {
			if err := recover(); err != nil {
				eventID := hub.RecoverWithContext(ctx.Request().Context(), err)
				if eventID != nil && options.WaitForDelivery {
					hub.Flush(timeout)
				}
				if options.Repanic {
					panic(err)
				}
			}
		}()

		ctx.Next()
	}
}

// GetHubFromContext retrieves the Hub instance attached to ctx by the
// middleware returned from New, or nil if the middleware was never run for
// this request.
func GetHubFromContext(ctx iris.Context) *sentry.Hub {
	if hub, ok := ctx.Values().Get(valuesKey).(*sentry.Hub); ok {
		return hub
	}
	return nil
}
