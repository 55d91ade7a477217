package bridge

import (
	"context"
	"testing"
	"time"
)

func TestTableRemoveWinsOnce(t *testing.T) {
	tbl := NewTable()
	s := &Session{ID: "s1", Tenant: &TenantConfig{TenantID: "t1"}}
	tbl.Add(s)

	if _, ok := tbl.Get("s1"); !ok {
		t.Fatal("session not registered")
	}
	if _, ok := tbl.Remove("s1"); !ok {
		t.Fatal("first remove must win")
	}
	if _, ok := tbl.Remove("s1"); ok {
		t.Fatal("second remove must lose")
	}
	if tbl.Len() != 0 {
		t.Fatalf("len: %d", tbl.Len())
	}
}

func TestTableSnapshot(t *testing.T) {
	tbl := NewTable()
	for _, id := range []string{"a", "b", "c"} {
		tbl.Add(&Session{ID: id, Tenant: &TenantConfig{TenantID: "t1"}})
	}
	snap := tbl.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot size: %d", len(snap))
	}
	tbl.Remove("b")
	if len(snap) != 3 {
		t.Fatal("snapshot must be independent of later removals")
	}
}

func TestSessionIdleTracking(t *testing.T) {
	s := &Session{ID: "s1"}
	s.Touch()
	if d := s.IdleSince(time.Now()); d > time.Second {
		t.Fatalf("fresh session idle too long: %v", d)
	}
	if d := s.IdleSince(time.Now().Add(10 * time.Minute)); d < 9*time.Minute {
		t.Fatalf("idle not accumulating: %v", d)
	}
}

func TestStaticConfigStoreFallback(t *testing.T) {
	store := NewStaticConfigStore(&TenantConfig{TenantID: "t1", Instructions: "a"})
	if _, err := store.Lookup(context.Background(), "nope"); err == nil {
		t.Fatal("unknown tenant without default must fail")
	}
	store.SetDefault(&TenantConfig{TenantID: "default", Instructions: "b"})
	cfg, err := store.Lookup(context.Background(), "nope")
	if err != nil || cfg.TenantID != "default" {
		t.Fatalf("fallback: %v %+v", err, cfg)
	}
	cfg, err = store.Lookup(context.Background(), "t1")
	if err != nil || cfg.TenantID != "t1" {
		t.Fatalf("direct lookup: %v %+v", err, cfg)
	}
}

func TestTenantConfigValidate(t *testing.T) {
	if err := (&TenantConfig{TenantID: "t1"}).Validate(); err == nil {
		t.Fatal("missing instructions must fail")
	}
	if err := (&TenantConfig{Instructions: "x"}).Validate(); err == nil {
		t.Fatal("missing tenant id must fail")
	}
	if err := (&TenantConfig{TenantID: "t1", Instructions: "x"}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
