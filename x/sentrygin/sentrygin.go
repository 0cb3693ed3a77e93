// Package sentrygin provides Sentry integration for the Gin web framework.
package sentrygin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rookwood/sentry-go-core"
)

const valuesKey = "sentry"

// Options configures New.
type Options struct {
	// Repanic configures whether Sentry should repanic after recovery, in
	// case you have other panic handlers.
	Repanic bool
	// WaitForDelivery configures whether you want to block the request
	// before moving forward with the response.
	WaitForDelivery bool
	// Timeout for the event delivery requests, defaults to 2 seconds.
	Timeout time.Duration
}

// New returns a gin.HandlerFunc that attaches a per-request Hub to ctx,
// recovers panics, and reports them as handled exceptions.
func New(options Options) gin.HandlerFunc {
	timeout := options.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return func(ctx *gin.Context) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(ctx.Request)
		ctx.Set(valuesKey, hub)
		defer recoverWithSentry(hub, ctx, options.Repanic, options.WaitForDelivery, timeout)
		ctx.Next()
	}
}

func recoverWithSentry(hub *sentry.Hub, ctx *gin.Context, repanic, waitForDelivery bool, timeout time.Duration) {
	if err := recover(); err != nil {
		eventID := hub.RecoverWithContext(
			context.WithValue(ctx.Request.Context(), sentry.RequestContextKey, ctx.Request),
			err,
		)
		if eventID != nil && waitForDelivery {
			hub.Flush(timeout)
		}
		if repanic {
			ctx.AbortWithStatus(http.StatusInternalServerError)
			panic(err)
		}
	}
}

// GetHubFromContext retrieves the Hub instance attached to ctx by the
// middleware returned from New, or nil if the middleware was never run for
// this request.
func GetHubFromContext(ctx *gin.Context) *sentry.Hub {
	if hub, ok := ctx.Get(valuesKey); ok {
		if hub, ok := hub.(*sentry.Hub); ok {
			return hub
		}
	}
	return nil
}
