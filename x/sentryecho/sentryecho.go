// Package sentryecho provides Sentry integration for the Echo web framework.
package sentryecho

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rookwood/sentry-go-core"
)

const valuesKey = "sentry"

// Options configures New.
type Options struct {
	Repanic         bool
	WaitForDelivery bool
	Timeout         time.Duration
}

// New returns an echo.MiddlewareFunc that attaches a per-request Hub to the
// echo.Context, recovers panics, and reports them as handled exceptions.
func New(options Options) echo.MiddlewareFunc {
	timeout := options.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			hub := sentry.CurrentHub().Clone()
			hub.Scope().SetRequest(ctx.Request())
			ctx.Set(valuesKey, hub)

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

			return next(ctx)
		}
	}
}

// GetHubFromContext retrieves the Hub instance attached to ctx by the
// middleware returned from New, or nil if the middleware was never run for
// this request.
func GetHubFromContext(ctx echo.Context) *sentry.Hub {
	if hub, ok := ctx.Get(valuesKey).(*sentry.Hub); ok {
		return hub
	}
	return nil
}
