// This is an example program that traces a transaction by hand: it starts a
// root span with child and grandchild spans around an HTTP request to a local
// test server, then prints the response and the finished span as JSON.
//
// Try it by running:
//
// 	go run main.go
//
// To actually report events to Sentry, set the DSN either by editing the
// appropriate line below or setting the environment variable SENTRY_DSN to
// match the DSN of your Sentry project.
package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"os"
	"time"

	"github.com/rookwood/sentry-go-core"
	xsentryhttp "github.com/rookwood/sentry-go-core/x/sentryhttp"
)

type debugTransport struct{}

func (t debugTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	var b bytes.Buffer
	line := bytes.Repeat([]byte{'-'}, 80)
	fmt.Fprintf(&b, "%s\n", line)
	head, _ := httputil.DumpRequest(r, false)
	fmt.Fprintf(&b, "%s", head)
	s := bufio.NewScanner(r.Body)
	for s.Scan() {
		_ = json.Indent(&b, s.Bytes(), "", "  ")
		fmt.Fprintln(&b)
	}
	fmt.Fprintf(&b, "%s\n", line)
	fmt.Printf("%s", b.Bytes())
	return &http.Response{}, nil
}

var DebugTransport http.RoundTripper = debugTransport{}

func run() error {
	err := sentry.Init(sentry.ClientOptions{
		// Either set your DSN here or set the SENTRY_DSN environment variable.
		Dsn: "",
		// Enable printing of SDK debug messages.
		// Useful when getting started or trying to figure something out.
		Debug: true,
		// Specify either TracesSampleRate or TracesSampler to enable tracing.
		TracesSampler: func(ctx sentry.SamplingContext) float64 {
			// Use the data stored in ctx to make custom sampling decisions.
			return 1.0
		},
		HTTPTransport: DebugTransport,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	// Flush buffered events before the program terminates.
	// Set the timeout to the maximum duration the program can afford to wait.
	defer sentry.Flush(2 * time.Second)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "It works!")
		time.Sleep(80 * time.Millisecond) // simulate network latency
		fmt.Fprintf(w, "%x", sha256.Sum256([]byte(r.URL.Query().Get("q"))))
	})

	testServer := httptest.NewServer(handler)

	span := sentry.StartSpan(context.Background(), "top", sentry.WithDescription("Example Transaction"))
	defer func() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(span); err != nil {
			panic(err)
		}
	}()
	defer span.End()
	child1 := span.StartChild("child1")
	time.Sleep(20 * time.Millisecond)
	grandchild1 := child1.StartChild("grandchild1")
	time.Sleep(100 * time.Millisecond)
	grandchild1.End()
	child1.End()
	child2 := span.StartChild("child2")
	resp, err := xsentryhttp.Get(child2.Context(), testServer.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", b)
	time.Sleep(50 * time.Millisecond)
	child2.End()

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
