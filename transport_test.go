package sentry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type unserializableType struct {
	UnsupportedField func()
}

const basicEvent = "{\"message\":\"mkey\",\"sdk\":{},\"user\":{}}"
const enhancedEvent = "{\"extra\":{\"info\":\"Original event couldn't be marshalled. Succeeded by stripping " +
	"the data that uses interface{} type. Please verify that the data you attach to the scope is serializable.\"}," +
	"\"message\":\"mkey\",\"sdk\":{},\"user\":{}}"

func TestGetRequestBodyFromEventValid(t *testing.T) {
	body := getRequestBodyFromEvent(&Event{
		Message: "mkey",
	})

	got := string(body)
	want := basicEvent

	if got != want {
		t.Errorf("expected different shape of body. \ngot: %s\nwant: %s", got, want)
	}
}

func TestGetRequestBodyFromEventInvalidBreadcrumbsField(t *testing.T) {
	body := getRequestBodyFromEvent(&Event{
		Message: "mkey",
		Breadcrumbs: []*Breadcrumb{{
			Data: map[string]interface{}{
				"wat": unserializableType{},
			},
		}},
	})

	got := string(body)
	want := enhancedEvent

	if got != want {
		t.Errorf("expected different shape of body. \ngot: %s\nwant: %s", got, want)
	}
}

func TestGetRequestBodyFromEventInvalidExtraField(t *testing.T) {
	body := getRequestBodyFromEvent(&Event{
		Message: "mkey",
		Extra: map[string]interface{}{
			"wat": unserializableType{},
		},
	})

	got := string(body)
	want := enhancedEvent

	if got != want {
		t.Errorf("expected different shape of body. \ngot: %s\nwant: %s", got, want)
	}
}

func TestGetRequestBodyFromEventInvalidContextField(t *testing.T) {
	body := getRequestBodyFromEvent(&Event{
		Message: "mkey",
		Contexts: map[string]interface{}{
			"wat": unserializableType{},
		},
	})

	got := string(body)
	want := enhancedEvent

	if got != want {
		t.Errorf("expected different shape of body. \ngot: %s\nwant: %s", got, want)
	}
}

func TestGetRequestBodyFromEventMultipleInvalidFields(t *testing.T) {
	body := getRequestBodyFromEvent(&Event{
		Message: "mkey",
		Breadcrumbs: []*Breadcrumb{{
			Data: map[string]interface{}{
				"wat": unserializableType{},
			},
		}},
		Extra: map[string]interface{}{
			"wat": unserializableType{},
		},
		Contexts: map[string]interface{}{
			"wat": unserializableType{},
		},
	})

	got := string(body)
	want := enhancedEvent

	if got != want {
		t.Errorf("expected different shape of body. \ngot: %s\nwant: %s", got, want)
	}
}

func TestGetRequestBodyFromEventCompletelyInvalid(t *testing.T) {
	body := getRequestBodyFromEvent(&Event{
		Exception: []Exception{{
			Stacktrace: &Stacktrace{
				Frames: []Frame{{
					Vars: map[string]interface{}{
						"wat": unserializableType{},
					},
				}},
			},
		}},
	})

	if body != nil {
		t.Error("expected body to be nil")
	}
}

func TestRetryAfterNoHeader(t *testing.T) {
	r := http.Response{}
	assertEqual(t, retryAfter(time.Now(), &r), time.Second*60)
}

func TestRetryAfterIncorrectHeader(t *testing.T) {
	r := http.Response{
		Header: map[string][]string{
			"Retry-After": {"x"},
		},
	}
	assertEqual(t, retryAfter(time.Now(), &r), time.Second*60)
}

func TestRetryAfterDelayHeader(t *testing.T) {
	r := http.Response{
		Header: map[string][]string{
			"Retry-After": {"1337"},
		},
	}
	assertEqual(t, retryAfter(time.Now(), &r), time.Second*1337)
}

func TestRetryAfterDateHeader(t *testing.T) {
	now, _ := time.Parse(time.RFC1123, "Wed, 21 Oct 2015 07:28:00 GMT")
	r := http.Response{
		Header: map[string][]string{
			"Retry-After": {"Wed, 21 Oct 2015 07:28:13 GMT"},
		},
	}
	assertEqual(t, retryAfter(now, &r), time.Second*13)
}

type testWriter testing.T

func (t *testWriter) Write(p []byte) (int, error) {
	t.Logf("%s", p)
	return len(p), nil
}

func TestDefaultBufferSize(t *testing.T) {
	assertEqual(t, defaultBufferSize, 64)
}

func TestClientWiresTransportDropHandler(t *testing.T) {
	client, err := NewClient(ClientOptions{
		Transport: NewHTTPTransport(),
		Dsn:       "https://user@example.com/42",
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, ok := client.Transport.(*HTTPTransport)
	if !ok {
		t.Fatal("expected client.Transport to be an *HTTPTransport")
	}

	tr.recordDrop("network_error", CategoryError, 3)

	discarded := client.drainDroppedEvents()
	if len(discarded) != 1 {
		t.Fatalf("got %d discarded event groups, want 1", len(discarded))
	}
	assertEqual(t, discarded[0].Reason, "network_error")
	assertEqual(t, discarded[0].Category, string(CategoryError))
	assertEqual(t, discarded[0].Quantity, 3)
}

func TestHTTPTransportConfigureBufferSizeFromOptions(t *testing.T) {
	tr := NewHTTPTransport()
	tr.Configure(ClientOptions{BufferSize: 7})
	assertEqual(t, tr.BufferSize, 7)
	assertEqual(t, cap(tr.tasks), 7)
}

func TestHTTPTransportRecordsRateLimitedDrop(t *testing.T) {
	var got []DiscardedEvent
	tr := NewHTTPTransport()
	tr.Configure(ClientOptions{
		Dsn: "https://user@example.com/42",
	})
	tr.dropHandler = func(reason string, category Category, quantity int) {
		got = append(got, DiscardedEvent{Reason: reason, Category: string(category), Quantity: quantity})
	}
	tr.rateLimits = RateLimits{CategoryError: time.Now().Add(time.Hour)}

	envelope := NewEnvelope(EnvelopeHeader{})
	_ = envelope.AddEventItem(NewEvent())
	tr.deliver(transportTask{envelope: envelope, category: CategoryError})

	if len(got) != 1 {
		t.Fatalf("recordDrop called %d times, want 1", len(got))
	}
	assertEqual(t, got[0].Reason, "ratelimit_backoff")
	assertEqual(t, got[0].Category, string(CategoryError))
	assertEqual(t, got[0].Quantity, 1)
}

func TestHTTPTransportRecordsQueueOverflowDrop(t *testing.T) {
	// Built by hand, skipping Configure, so no worker goroutine drains tasks
	// and the buffer-full branch is reached deterministically.
	var got []DiscardedEvent
	tr := &HTTPTransport{BufferSize: 1}
	tr.tasks = make(chan transportTask, tr.BufferSize)
	tr.dropHandler = func(reason string, category Category, quantity int) {
		got = append(got, DiscardedEvent{Reason: reason, Category: string(category), Quantity: quantity})
	}
	tr.tasks <- transportTask{envelope: NewEnvelope(EnvelopeHeader{}), category: CategoryError}

	envelope := NewEnvelope(EnvelopeHeader{})
	_ = envelope.AddEventItem(NewEvent())
	_ = envelope.AddEventItem(NewEvent())
	tr.SendEnvelope(envelope)

	if len(got) != 1 {
		t.Fatalf("recordDrop called %d times, want 1", len(got))
	}
	assertEqual(t, got[0].Reason, "queue_overflow")
	assertEqual(t, got[0].Quantity, 2)
}

func TestHTTPTransportFlush(t *testing.T) {
	var counter uint64
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(r.Body)
		var e struct {
			EventID string `json:"event_id"`
		}
		err := dec.Decode(&e)
		if err != nil {
			panic(err)
		}
		t.Logf("{%.4s} [SERVER] received event: #%d", e.EventID, atomic.AddUint64(&counter, 1))
	}))
	defer ts.Close()

	Logger.SetOutput((*testWriter)(t))

	tr := NewHTTPTransport()
	tr.Configure(ClientOptions{
		Dsn:        fmt.Sprintf("https://user@%s/42", ts.Listener.Addr()),
		HTTPClient: ts.Client(),
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2; j++ {
				e := NewEvent()
				e.EventID = EventID(uuid())
				t.Logf("{%.4s} tr.SendEvent #%d from goroutine #%d", e.EventID, j, i)
				tr.SendEvent(e)
				ok := tr.Flush(200 * time.Millisecond)
				if !ok {
					t.Errorf("{%.4s} Flush() timed out", e.EventID)
				}
			}
		}()
	}
	wg.Wait()
}

func BenchmarkHTTPTransport(b *testing.B) {
	var counter uint64
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(80 * time.Millisecond)
		atomic.AddUint64(&counter, 1)
	}))
	defer ts.Close()

	tr := NewHTTPTransport()
	tr.Configure(ClientOptions{
		Dsn:        fmt.Sprintf("https://user@%s/42", ts.Listener.Addr()),
		HTTPClient: ts.Client(),
	})

	e := NewEvent()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i > 0 && i%tr.BufferSize == 0 {
			tr.Flush(3000 * time.Millisecond)
		}
		tr.SendEvent(e)
	}
	ok := tr.Flush(2000 * time.Millisecond)
	if !ok {
		b.Error("Flush() timed out")
	}
	if counter != uint64(b.N) {
		b.Errorf("counter = %d, want %d", counter, b.N)
	}
}
func BenchmarkHTTPTransportNoFlush(b *testing.B) {
	var counter uint64
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(80 * time.Millisecond)
		atomic.AddUint64(&counter, 1)
	}))
	defer ts.Close()

	tr := NewHTTPTransport()
	tr.Configure(ClientOptions{
		Dsn:        fmt.Sprintf("https://user@%s/42", ts.Listener.Addr()),
		HTTPClient: ts.Client(),
	})

	e := NewEvent()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.SendEvent(e)
	}
	b.StopTimer()
	tr.Flush(time.Second)
	b.Logf("counter = %d, b.N = %d", counter, b.N)
}
func BenchmarkHTTPSyncTransport(b *testing.B) {
	var counter uint64
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(80 * time.Millisecond)
		atomic.AddUint64(&counter, 1)
	}))
	defer ts.Close()

	tr := NewHTTPSyncTransport()
	tr.Configure(ClientOptions{
		Dsn:        fmt.Sprintf("https://user@%s/42", ts.Listener.Addr()),
		HTTPClient: ts.Client(),
	})

	e := NewEvent()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.SendEvent(e)
	}
	ok := tr.Flush(200 * time.Millisecond)
	if !ok {
		b.Error("Flush() timed out")
	}
	if counter != uint64(b.N) {
		b.Errorf("counter = %d, want %d", counter, b.N)
	}
}
