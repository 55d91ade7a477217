// Package bridge holds the per-call session orchestration: the session
// table, the AI-endpoint event loop, barge-in handling, tool dispatch and
// the collaborator interfaces the core consumes.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/voicebridge-lab/internal/realtime"
)

// ErrNoTenant is returned when configuration lookup finds nothing.
var ErrNoTenant = errors.New("bridge: unknown tenant")

// TenantConfig is the behavior block applied to a session at creation. It is
// produced by surrounding infrastructure, never generated here.
type TenantConfig struct {
	TenantID     string
	Instructions string
	Voice        string
	Greeting     string
	Temperature  float64

	// Tools is the tenant's tool menu as offered to the AI endpoint.
	Tools []realtime.ToolDef

	// OperatorURL is the TwiML endpoint a DTMF transfer redirects to.
	OperatorURL string

	// NotifyURL receives the post-call summary webhook, empty disables it.
	NotifyURL string
}

// Validate reports configuration errors before any transport is opened.
func (c *TenantConfig) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: empty tenant id", ErrNoTenant)
	}
	if c.Instructions == "" {
		return errors.New("bridge: tenant config missing instructions")
	}
	return nil
}

// TenantConfigStore looks up the behavior configuration for a tenant.
type TenantConfigStore interface {
	Lookup(ctx context.Context, tenantID string) (*TenantConfig, error)
}

// StaticConfigStore is a fixed in-memory store. The default tenant (empty
// key) backs calls that arrive without an explicit tenant parameter.
type StaticConfigStore struct {
	mu      sync.RWMutex
	tenants map[string]*TenantConfig
}

// NewStaticConfigStore builds a store from a tenant set.
func NewStaticConfigStore(tenants ...*TenantConfig) *StaticConfigStore {
	s := &StaticConfigStore{tenants: make(map[string]*TenantConfig)}
	for _, t := range tenants {
		s.tenants[t.TenantID] = t
	}
	return s
}

// SetDefault registers cfg as the fallback for unknown or empty tenant ids.
func (s *StaticConfigStore) SetDefault(cfg *TenantConfig) {
	s.mu.Lock()
	s.tenants[""] = cfg
	s.mu.Unlock()
}

// Lookup implements TenantConfigStore.
func (s *StaticConfigStore) Lookup(ctx context.Context, tenantID string) (*TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.tenants[tenantID]; ok {
		return cfg, nil
	}
	if cfg, ok := s.tenants[""]; ok {
		return cfg, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoTenant, tenantID)
}
