package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(attempts int) *Client {
	return NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
}

func TestSendSignsJobEvent(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := testClient(1).Send(context.Background(), srv.URL, EventJobCompleted, JobEvent{JobID: "job-1", Status: "succeeded", Files: 2})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotEvt != EventJobCompleted {
		t.Fatalf("expected event header %s, got %q", EventJobCompleted, gotEvt)
	}
	if gotTS == "" {
		t.Fatal("expected timestamp header")
	}
	if err := Verify("test-secret", gotTS, gotBody, gotSig); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
	if err := Verify("other-secret", gotTS, gotBody, gotSig); err == nil {
		t.Fatal("expected signature to fail with the wrong secret")
	}
	if !strings.Contains(string(gotBody), `"job_id":"job-1"`) {
		t.Fatalf("unexpected body %s", gotBody)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := testClient(3).Send(context.Background(), srv.URL, EventJobFailed, JobEvent{JobID: "job-2"}); err != nil {
		t.Fatalf("expected delivery on third attempt, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := testClient(5).Send(context.Background(), srv.URL, EventJobFailed, JobEvent{JobID: "job-3"})
	if err == nil {
		t.Fatal("expected error for 410 response")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	if err := testClient(1).Send(context.Background(), "  ", EventJobCompleted, JobEvent{}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
