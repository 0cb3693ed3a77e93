package sentry

import (
	"io"
	"log"
	"os"
)

// Logger is the SDK's internal diagnostic logger, silent by default.
// ClientOptions.Debug redirects it to os.Stderr so SDK-internal problems
// (marshal failures, rate limiting, dropped events) are visible without
// instrumenting the host application.
var Logger = log.New(io.Discard, "[Sentry] ", log.LstdFlags)

// enableDebugLogging switches Logger's output to w (normally os.Stderr),
// called once from NewClient when ClientOptions.Debug is set.
func enableDebugLogging(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	Logger.SetOutput(w)
}
