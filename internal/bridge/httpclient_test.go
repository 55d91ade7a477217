package bridge

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestPostWithRetriesBodyReadableAfterReturn verifies the response body
// survives the per-attempt request context; callers read it after the call
// returns.
func TestPostWithRetriesBodyReadableAfterReturn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ack":true}`)
	}))
	defer srv.Close()

	resp, err := postWithRetries(nil, srv.URL, []byte(`{}`), "", 2000, 1, "c1")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body after return: %v", err)
	}
	if string(body) != `{"ack":true}` {
		t.Fatalf("unexpected body %q", body)
	}
}

// TestPostWithRetriesExhaustsAttempts verifies the final attempt's error is
// surfaced once retries run out.
func TestPostWithRetriesExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if _, err := postWithRetries(nil, srv.URL, []byte(`{}`), "", 200, 2, "c1"); err == nil {
		t.Fatal("expected error from unreachable endpoint")
	}
}
