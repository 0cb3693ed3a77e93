// Package sentryfasthttp provides Sentry integration for the fasthttp
// server.
package sentryfasthttp

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/rookwood/sentry-go-core"
)

// Options configures New.
type Options struct {
	Repanic         bool
	WaitForDelivery bool
	Timeout         time.Duration
}

type hubContextKey struct{}

// New wraps handler, attaching a per-request Hub to ctx.UserValue, recovering
// panics, and reporting them as handled exceptions.
func New(options Options, handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	timeout := options.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return func(ctx *fasthttp.RequestCtx) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequestData(requestFromCtx(ctx))
		ctx.SetUserValue(hubContextKey{}, hub)

		defer func() {
			if err := recover(); err != nil {
				eventID := hub.RecoverWithContext(context.Background(), err)
				if eventID != nil && options.WaitForDelivery {
					hub.Flush(timeout)
				}
				if options.Repanic {
					panic(err)
				}
				ctx.Error("internal server error", 500)
			}
		}()

		handler(ctx)
	}
}

// GetHubFromContext retrieves the Hub instance attached to ctx by the
// handler returned from New, or nil if it was never run for this request.
func GetHubFromContext(ctx *fasthttp.RequestCtx) *sentry.Hub {
	if hub, ok := ctx.UserValue(hubContextKey{}).(*sentry.Hub); ok {
		return hub
	}
	return nil
}

func requestFromCtx(ctx *fasthttp.RequestCtx) sentry.Request {
	headers := make(map[string]string)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})
	return sentry.Request{
		URL:         ctx.URI().String(),
		Method:      string(ctx.Method()),
		QueryString: string(ctx.QueryArgs().QueryString()),
		Cookies:     headers["Cookie"],
		Headers:     headers,
		Env: map[string]string{
			"REMOTE_ADDR": ctx.RemoteIP().String(),
		},
	}
}
