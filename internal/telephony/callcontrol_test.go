package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHangupPostsCompleted(t *testing.T) {
	var gotPath, gotStatus, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotStatus = r.PostFormValue("Status")
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cc := NewCallControl("AC1", "token", srv.URL)
	if err := cc.Hangup(context.Background(), "CA1"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls/CA1.json" {
		t.Fatalf("wrong path: %s", gotPath)
	}
	if gotStatus != "completed" {
		t.Fatalf("wrong status form value: %q", gotStatus)
	}
	if gotUser != "AC1" {
		t.Fatalf("basic auth user: %q", gotUser)
	}
}

func TestRedirectBlocksHangup(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cc := NewCallControl("AC1", "token", srv.URL)
	if err := cc.Redirect(context.Background(), "CA1", "https://example.com/operator"); err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if err := cc.Hangup(context.Background(), "CA1"); err != nil {
		t.Fatalf("hangup after redirect: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("hangup after redirect must be a no-op, api calls=%d", n)
	}
}

func TestFailedRedirectAllowsHangup(t *testing.T) {
	var fail int32 = 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&fail) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cc := NewCallControl("AC1", "token", srv.URL)
	if err := cc.Redirect(context.Background(), "CA1", "https://example.com/operator"); err == nil {
		t.Fatal("expected redirect failure")
	}
	atomic.StoreInt32(&fail, 0)
	if err := cc.Hangup(context.Background(), "CA1"); err != nil {
		t.Fatalf("hangup after failed redirect: %v", err)
	}
}

func TestTransientRetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cc := NewCallControl("AC1", "token", srv.URL)
	if err := cc.Hangup(context.Background(), "CA1"); err != nil {
		t.Fatalf("hangup should succeed on retry: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly one retry, api calls=%d", calls)
	}
}

func TestPermanentFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cc := NewCallControl("AC1", "token", srv.URL)
	err := cc.Hangup(context.Background(), "CA404")
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("want ErrPermanent, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("permanent errors must not retry, api calls=%d", calls)
	}
}
