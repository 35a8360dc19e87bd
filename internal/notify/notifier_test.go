package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testEvent() Event {
	return Event{
		EventType: "follow",
		ActorID:   "u1",
		TargetID:  "u2",
		Message:   "follow(u1, u2): ok",
		Timestamp: time.Now(),
	}
}

func TestWebhookNotifier_Success(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, nil)
	if err := notifier.Send(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}

	if received.EventType != "follow" {
		t.Errorf("event_type = %q, want follow", received.EventType)
	}
	if received.ActorID != "u1" || received.TargetID != "u2" {
		t.Errorf("actor/target = %q/%q, want u1/u2", received.ActorID, received.TargetID)
	}
}

func TestWebhookNotifier_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, nil)
	if err := notifier.Send(context.Background(), testEvent()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestWebhookNotifier_RetriesServerError(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, nil)
	if err := notifier.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("send after transient 503: %v", err)
	}
	if requests != 2 {
		t.Errorf("server saw %d requests, want 2", requests)
	}
}

func TestWebhookNotifier_NoRetryOnRejection(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, nil)
	if err := notifier.Send(context.Background(), testEvent()); err == nil {
		t.Error("expected error for 422 response")
	}
	if requests != 1 {
		t.Errorf("server saw %d requests, want 1 (4xx is permanent)", requests)
	}
}

func TestWebhookNotifier_EventTypeHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Socialseed-Event"); got != "follow" {
			t.Errorf("X-Socialseed-Event = %q, want follow", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, nil)
	if err := notifier.Send(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}
}

func TestWebhookNotifier_CustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Custom") != "value" {
			t.Errorf("X-Custom = %q, want value", r.Header.Get("X-Custom"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, map[string]string{"X-Custom": "value"})
	if err := notifier.Send(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}
}

func TestStdoutNotifier_Send(t *testing.T) {
	n := NewStdoutNotifier()
	if n.Name() != "stdout" {
		t.Errorf("name = %q, want stdout", n.Name())
	}
	if err := n.Send(context.Background(), testEvent()); err != nil {
		t.Errorf("stdout send error: %v", err)
	}
}

func TestMulti_DispatchesAll(t *testing.T) {
	var count int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	multi := NewMulti(NewWebhookNotifier(server.URL, nil), NewWebhookNotifier(server.URL, nil))
	if err := multi.Send(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("multi dispatched to %d, want 2", count)
	}
}

func TestMulti_ReturnsLastError(t *testing.T) {
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failServer.Close()

	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()

	multi := NewMulti(NewWebhookNotifier(okServer.URL, nil), NewWebhookNotifier(failServer.URL, nil))
	if err := multi.Send(context.Background(), testEvent()); err == nil {
		t.Error("expected error from failing notifier")
	}
}
