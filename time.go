package sentry

import "time"

// now is overridable in tests that need deterministic timestamps.
var now = time.Now

// monotonicNowUnix returns the current time as Unix seconds, used as the
// default Breadcrumb.Timestamp when the caller does not set one explicitly.
func monotonicNowUnix() int64 {
	return now().Unix()
}

// nowSeconds returns the current time as a float64 number of seconds since
// the epoch, the unit in which Span.MarshalJSON renders Span.StartTime/EndTime.
func nowSeconds() float64 {
	t := now()
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
