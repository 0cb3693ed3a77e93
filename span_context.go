package sentry

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Sampled is a trace's sampling decision: undefined until a root span makes
// one, then fixed for the life of the trace.
type Sampled int8

const (
	SampledFalse Sampled = -1 + iota
	SampledUndefined
	SampledTrue
)

func (s Sampled) String() string {
	switch s {
	case SampledFalse:
		return "SampledFalse"
	case SampledUndefined:
		return "SampledUndefined"
	case SampledTrue:
		return "SampledTrue"
	default:
		return fmt.Sprintf("SampledInvalid(%d)", s)
	}
}

// sentryTracePattern matches either
//
//	TRACE_ID - SPAN_ID
//	[[:xdigit:]]{32}-[[:xdigit:]]{16}
//
// or
//
//	TRACE_ID - SPAN_ID - SAMPLED
//	[[:xdigit:]]{32}-[[:xdigit:]]{16}-[01]
var sentryTracePattern = regexp.MustCompile(`^([[:xdigit:]]{32})-([[:xdigit:]]{16})(?:-([01]))?$`)

// parseSentryTraceHeader parses a sentry-trace HTTP header value as produced
// by Span.ToSentryTrace. ok is false if header isn't recognized as valid, in
// which case the other return values are zero.
func parseSentryTraceHeader(header string) (traceID TraceID, parentSpanID SpanID, sampled *bool, ok bool) {
	m := sentryTracePattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return traceID, parentSpanID, nil, false
	}
	_, _ = hex.Decode(traceID[:], []byte(m[1]))
	_, _ = hex.Decode(parentSpanID[:], []byte(m[2]))
	if m[3] != "" {
		v := m[3] == "1"
		sampled = &v
	}
	return traceID, parentSpanID, sampled, true
}

// ToSentryTrace returns the sentry-trace header value used to propagate this
// span's trace to a downstream service.
func (s *Span) ToSentryTrace() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s-%s", s.TraceID.Hex(), s.SpanID.Hex())
	if s.sampled {
		b.WriteString("-1")
	} else if s.dsc != nil && s.dsc.Sampled != nil && !*s.dsc.Sampled {
		b.WriteString("-0")
	}
	return b.String()
}

// ToBaggage returns the baggage header value carrying this span's frozen
// Dynamic Sampling Context, or the empty string if the span has none (e.g. it
// is non-recording and was never part of a traced request).
func (s *Span) ToBaggage() string {
	if s.dsc == nil {
		return ""
	}
	return s.dsc.String()
}

// PropagationContextFromHeaders derives a PropagationContext to seed a new
// root span from inbound sentry-trace / baggage header values, as an
// incoming HTTP server integration does for every request. If sentryTrace is
// empty or unrecognized, a fresh, unrelated PropagationContext is returned
// instead (the request starts a new trace).
func PropagationContextFromHeaders(sentryTrace, baggage string) PropagationContext {
	traceID, parentSpanID, sampledPtr, ok := parseSentryTraceHeader(sentryTrace)
	if !ok {
		return NewPropagationContext()
	}
	pc := PropagationContext{
		TraceID:      traceID,
		SpanID:       generateSpanID(),
		ParentSpanID: parentSpanID,
	}
	if sampledPtr != nil {
		if *sampledPtr {
			pc.Sampled = SampledTrue
		} else {
			pc.Sampled = SampledFalse
		}
	}
	if dsc, err := DynamicSamplingContextFromHeader(baggage); err == nil && dsc.HasEntries() {
		dsc.Frozen = true
		pc.Dsc = &dsc
	}
	return pc
}

// PropagationContextFromRequest is a convenience wrapper around
// PropagationContextFromHeaders for *http.Request.
func PropagationContextFromRequest(r *http.Request) PropagationContext {
	return PropagationContextFromHeaders(r.Header.Get("sentry-trace"), r.Header.Get("baggage"))
}

// DynamicSamplingContext (DSC) is the set of trace-level values frozen at the
// moment a trace's root span is created, propagated downstream via the W3C
// baggage header under the "sentry-" prefix so that every service in a
// distributed trace makes the same sampling decision and reports consistent
// trace-level metadata.
//
// A DSC is created once per trace and never mutated afterwards; downstream
// services that receive one via baggage must propagate it unchanged rather
// than computing their own.
type DynamicSamplingContext struct {
	TraceID     string
	PublicKey   string
	Release     string
	Environment string
	Transaction string
	SampleRate  *float64
	Sampled     *bool

	// Unknown carries any "sentry-"-prefixed baggage members this SDK version
	// doesn't recognize, so they round-trip unchanged when propagated.
	Unknown map[string]string

	// Frozen marks a DSC received from an upstream service (or already sent
	// once): such a DSC must never be recomputed, only forwarded.
	Frozen bool
}

// HasEntries reports whether the DSC carries any value at all.
func (dsc DynamicSamplingContext) HasEntries() bool {
	if dsc.TraceID != "" || dsc.PublicKey != "" || dsc.Release != "" ||
		dsc.Environment != "" || dsc.Transaction != "" ||
		dsc.SampleRate != nil || dsc.Sampled != nil {
		return true
	}
	return len(dsc.Unknown) > 0
}

// String renders the DSC as the value of a baggage HTTP header, one
// "sentry-key=value" member per populated field, comma-separated.
func (dsc DynamicSamplingContext) String() string {
	members := make(map[string]string)
	if dsc.TraceID != "" {
		members["sentry-trace_id"] = dsc.TraceID
	}
	if dsc.PublicKey != "" {
		members["sentry-public_key"] = dsc.PublicKey
	}
	if dsc.Release != "" {
		members["sentry-release"] = dsc.Release
	}
	if dsc.Environment != "" {
		members["sentry-environment"] = dsc.Environment
	}
	if dsc.Transaction != "" {
		members["sentry-transaction"] = dsc.Transaction
	}
	if dsc.SampleRate != nil {
		members["sentry-sample_rate"] = strconv.FormatFloat(*dsc.SampleRate, 'g', -1, 64)
	}
	if dsc.Sampled != nil {
		members["sentry-sampled"] = strconv.FormatBool(*dsc.Sampled)
	}
	for k, v := range dsc.Unknown {
		members["sentry-"+k] = v
	}

	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, members[k]))
	}
	return strings.Join(parts, ",")
}

// DynamicSamplingContextFromHeader parses a baggage header value, keeping
// only its "sentry-"-prefixed members; non-Sentry baggage members (from
// other W3C baggage participants sharing the header) are ignored, since
// extraneous baggage members are dropped on propagation.
func DynamicSamplingContextFromHeader(header string) (DynamicSamplingContext, error) {
	var dsc DynamicSamplingContext
	header = strings.TrimSpace(header)
	if header == "" {
		return dsc, nil
	}
	for _, member := range strings.Split(header, ",") {
		kv := strings.SplitN(member, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		if !strings.HasPrefix(key, "sentry-") {
			continue
		}
		value := strings.TrimSpace(kv[1])
		if semi := strings.Index(value, ";"); semi >= 0 {
			value = value[:semi]
		}
		switch strings.TrimPrefix(key, "sentry-") {
		case "trace_id":
			dsc.TraceID = value
		case "public_key":
			dsc.PublicKey = value
		case "release":
			dsc.Release = value
		case "environment":
			dsc.Environment = value
		case "transaction":
			dsc.Transaction = value
		case "sample_rate":
			if rate, err := strconv.ParseFloat(value, 64); err == nil {
				dsc.SampleRate = &rate
			}
		case "sampled":
			if sampled, err := strconv.ParseBool(value); err == nil {
				dsc.Sampled = &sampled
			}
		default:
			if dsc.Unknown == nil {
				dsc.Unknown = make(map[string]string)
			}
			dsc.Unknown[strings.TrimPrefix(key, "sentry-")] = value
		}
	}
	return dsc, nil
}
