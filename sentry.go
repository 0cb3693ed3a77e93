package sentry

import (
	"context"
	"time"
)

// Init configures the default Hub's client, the one CurrentHub/the
// package-level Capture* functions use when no explicit Hub is threaded
// through a context.Context. Safe to call more than once, e.g. to swap DSNs
// between tests; the previous client is simply replaced, not closed.
func Init(options ClientOptions) error {
	client, err := NewClient(options)
	if err != nil {
		return err
	}
	CurrentHub().BindClient(client)
	return nil
}

// CaptureException reports exception through the default Hub.
func CaptureException(exception error) *EventID {
	return CurrentHub().CaptureException(exception)
}

// CaptureMessage reports message through the default Hub.
func CaptureMessage(message string) *EventID {
	return CurrentHub().CaptureMessage(message)
}

// CaptureEvent reports a fully constructed event through the default Hub.
func CaptureEvent(event *Event) *EventID {
	return CurrentHub().CaptureEvent(event)
}

// Recover reports err (typically from a deferred recover()) through the
// default Hub.
func Recover(err interface{}) *EventID {
	return CurrentHub().Recover(err)
}

// RecoverWithContext is like Recover, but attaches ctx to the resulting
// EventHint.
func RecoverWithContext(ctx context.Context, err interface{}) *EventID {
	return CurrentHub().RecoverWithContext(ctx, err)
}

// AddBreadcrumb appends breadcrumb to the default Hub's current scope.
func AddBreadcrumb(breadcrumb *Breadcrumb) {
	CurrentHub().AddBreadcrumb(breadcrumb, BreadcrumbHint{})
}

// WithScope forks the default Hub's scope for the duration of f.
func WithScope(f func(scope *Scope)) {
	CurrentHub().WithScope(f)
}

// ConfigureScope runs f against the default Hub's current scope in place.
func ConfigureScope(f func(scope *Scope)) {
	CurrentHub().ConfigureScope(f)
}

// Flush waits until the default Hub's client has sent all queued events and
// envelopes, or timeout elapses. Returns false if the timeout was reached.
func Flush(timeout time.Duration) bool {
	return CurrentHub().Flush(timeout)
}

// Close flushes the default Hub's client as Flush does, then shuts down its
// transport. The client is unusable afterwards; a later Init is required to
// resume sending.
func Close(timeout time.Duration) bool {
	return CurrentHub().Close(timeout)
}
