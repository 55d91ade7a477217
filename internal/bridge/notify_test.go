package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookNotifierPostsSummary(t *testing.T) {
	var got CallSummary
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, AuthToken: "secret", Client: srv.Client()}
	summary := &CallSummary{
		SessionID: "s1",
		CallSID:   "CA1",
		TenantID:  "t1",
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		Outcome:   "completed",
		Transcript: []TranscriptEntry{
			{Role: "caller", Text: "hi", At: time.Now()},
		},
	}
	if err := n.Notify(context.Background(), summary); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.SessionID != "s1" || got.Outcome != "completed" || len(got.Transcript) != 1 {
		t.Fatalf("delivered summary: %+v", got)
	}
	if auth != "Bearer secret" {
		t.Fatalf("auth header: %q", auth)
	}
}

func TestWebhookNotifierReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), &CallSummary{SessionID: "s1"}); err == nil {
		t.Fatal("expected error on non-2xx status")
	}
}
