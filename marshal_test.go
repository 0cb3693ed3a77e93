package sentry

import (
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var (
	goReleaseDate = time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	utcMinusTwo   = time.FixedZone("UTC-2", -2*60*60)
)

func mustTraceID(t *testing.T, s string) TraceID {
	t.Helper()
	var id TraceID
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		t.Fatalf("bad trace id %q: %v", s, err)
	}
	return id
}

func mustSpanID(t *testing.T, s string) SpanID {
	t.Helper()
	var id SpanID
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		t.Fatalf("bad span id %q: %v", s, err)
	}
	return id
}

func TestMarshalJSON(t *testing.T) {
	tests := []struct {
		in  interface{}
		out string
	}{
		{&Event{}, `{"sdk":{},"user":{}}`},
		{&Breadcrumb{}, `{}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run("", func(t *testing.T) {
			want := tt.out
			b, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			got := string(b)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("JSON serialization mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEventMarshalJSON(t *testing.T) {
	event := NewEvent()
	event.Spans = []*Span{{
		TraceID:      mustTraceID(t, "d6c4f03650bd47699ec65c84352b6208"),
		SpanID:       mustSpanID(t, "1cc4b26ab9094ef0"),
		ParentSpanID: mustSpanID(t, "442bd97bbe564317"),
		StartTime:    time.Unix(8, 0).UTC(),
		EndTime:      time.Unix(10, 0).UTC(),
		Status:       SpanStatusOK,
	}}
	event.Timestamp = time.Unix(14, 0).UTC().Unix()

	got, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("re-decoding event JSON: %v", err)
	}
	if decoded["timestamp"] != float64(14) {
		t.Errorf("timestamp = %v, want 14", decoded["timestamp"])
	}
	spans, ok := decoded["spans"].([]interface{})
	if !ok || len(spans) != 1 {
		t.Fatalf("spans = %v, want a single-element array", decoded["spans"])
	}
	span := spans[0].(map[string]interface{})
	if span["trace_id"] != "d6c4f03650bd47699ec65c84352b6208" {
		t.Errorf("trace_id = %v", span["trace_id"])
	}
	if span["status"] != "ok" {
		t.Errorf("status = %v", span["status"])
	}
	if span["start_timestamp"] != float64(8) || span["timestamp"] != float64(10) {
		t.Errorf("start_timestamp/timestamp = %v/%v, want 8/10", span["start_timestamp"], span["timestamp"])
	}
}

func TestSpanMarshalJSON(t *testing.T) {
	span := &Span{
		TraceID:      mustTraceID(t, "d6c4f03650bd47699ec65c84352b6208"),
		SpanID:       mustSpanID(t, "1cc4b26ab9094ef0"),
		ParentSpanID: mustSpanID(t, "442bd97bbe564317"),
		Description:  `SELECT * FROM user WHERE "user"."id" = {id}`,
		Op:           "db.sql",
		Tags: map[string]string{
			"function_name": "get_users",
		},
		StartTime: time.Unix(0, 0).UTC(),
		EndTime:   time.Unix(5, 0).UTC(),
		Status:    SpanStatusOK,
		Attributes: map[string]interface{}{
			"aws_instance": "ca-central-1",
		},
	}

	got, err := json.Marshal(span)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("re-decoding span JSON: %v", err)
	}
	wantFields := map[string]interface{}{
		"trace_id":        "d6c4f03650bd47699ec65c84352b6208",
		"span_id":         "1cc4b26ab9094ef0",
		"parent_span_id":  "442bd97bbe564317",
		"op":              "db.sql",
		"description":     `SELECT * FROM user WHERE "user"."id" = {id}`,
		"status":          "ok",
		"start_timestamp": float64(0),
		"timestamp":       float64(5),
	}
	for k, want := range wantFields {
		if diff := cmp.Diff(want, decoded[k]); diff != "" {
			t.Errorf("field %q mismatch (-want +got):\n%s", k, diff)
		}
	}
	data, ok := decoded["data"].(map[string]interface{})
	if !ok || data["aws_instance"] != "ca-central-1" {
		t.Errorf("data = %v", decoded["data"])
	}
	tags, ok := decoded["tags"].(map[string]interface{})
	if !ok || tags["function_name"] != "get_users" {
		t.Errorf("tags = %v", decoded["tags"])
	}
}

func TestTransactionContextMarshalJSON(t *testing.T) {
	event := &Event{
		Type:      transactionType,
		StartTime: time.Unix(3, 0).UTC().Unix(),
		Timestamp: time.Unix(5, 0).UTC().Unix(),
		Contexts: map[string]interface{}{
			"trace": TraceContext{
				TraceID:     mustTraceID(t, "90d57511038845dcb4164a70fc3a7fdb"),
				SpanID:      mustSpanID(t, "f7f3fd754a9040eb"),
				Op:          "http.GET",
				Description: "description",
				Status:      SpanStatusOK,
			},
		},
	}

	got, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != transactionType {
		t.Errorf("type = %v, want %v", decoded["type"], transactionType)
	}
	trace, ok := decoded["contexts"].(map[string]interface{})["trace"].(map[string]interface{})
	if !ok {
		t.Fatal("contexts.trace missing or wrong shape")
	}
	if trace["trace_id"] != "90d57511038845dcb4164a70fc3a7fdb" {
		t.Errorf("trace_id = %v", trace["trace_id"])
	}
	if trace["status"] != "ok" {
		t.Errorf("status = %v", trace["status"])
	}
}

func TestErrorEventMarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		event *Event
		want  string
	}{
		{
			name:  "with timestamp",
			event: &Event{Message: "test", Timestamp: goReleaseDate.Unix()},
			want:  `{"message":"test","sdk":{},"timestamp":1257894000,"user":{}}`,
		},
		{
			name:  "timestamp not in UTC",
			event: &Event{Message: "test", Timestamp: goReleaseDate.In(utcMinusTwo).Unix()},
			want:  `{"message":"test","sdk":{},"timestamp":1257894000,"user":{}}`,
		},
		{
			name:  "missing timestamp",
			event: &Event{Message: "test"},
			want:  `{"message":"test","sdk":{},"user":{}}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, string(got)); diff != "" {
				t.Errorf("JSON mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBreadcrumbMarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		b    *Breadcrumb
		want string
	}{
		{
			name: "complete",
			b: &Breadcrumb{
				Type:     "default",
				Category: "sentryhttp",
				Message:  "breadcrumb message",
				Data: map[string]interface{}{
					"key": "value",
				},
				Level:     LevelInfo,
				Timestamp: goReleaseDate.Unix(),
			},
			want: `{"category":"sentryhttp","data":{"key":"value"},"level":"info",` +
				`"message":"breadcrumb message","timestamp":1257894000,"type":"default"}`,
		},
		{
			name: "missing timestamp",
			b:    &Breadcrumb{Message: "breadcrumb message"},
			want: `{"message":"breadcrumb message"}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, string(got)); diff != "" {
				t.Errorf("MarshalJSON (-want +got):\n%s", diff)
			}
		})
	}
}
