package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/wardenlabs/llm-warden/internal/policy"
	"github.com/wardenlabs/llm-warden/internal/suppress"
	"github.com/wardenlabs/llm-warden/internal/tenant"
)

// Memory is an in-process store for tests and single-node deployments
// without Postgres. Safe for concurrent readers; mutation methods take
// the write lock.
type Memory struct {
	mu           sync.RWMutex
	tenants      map[string]tenant.Tenant
	apps         map[string]tenant.App
	policies     map[string]tenant.Policy
	partners     map[string]string // partner id -> default policy id
	condPolicies map[string][]policy.Policy
	suppressions map[string][]suppress.Suppression
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tenants:      make(map[string]tenant.Tenant),
		apps:         make(map[string]tenant.App),
		policies:     make(map[string]tenant.Policy),
		partners:     make(map[string]string),
		condPolicies: make(map[string][]policy.Policy),
		suppressions: make(map[string][]suppress.Suppression),
	}
}

// PutTenant adds or replaces a tenant.
func (m *Memory) PutTenant(t tenant.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

// PutApp adds or replaces an app.
func (m *Memory) PutApp(a tenant.App) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[a.ID] = a
}

// PutPolicy adds or replaces a tenant policy.
func (m *Memory) PutPolicy(p tenant.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.ID] = p
}

// PutPartnerDefault configures a partner's default policy id.
func (m *Memory) PutPartnerDefault(partnerID, policyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partners[partnerID] = policyID
}

// PutConditionPolicies replaces all condition policies for a customer.
func (m *Memory) PutConditionPolicies(customerID string, ps []policy.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.condPolicies[customerID] = append([]policy.Policy(nil), ps...)
}

// PutSuppressions replaces all suppressions for a tenant.
func (m *Memory) PutSuppressions(tenantID string, ss []suppress.Suppression) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressions[tenantID] = append([]suppress.Suppression(nil), ss...)
}

// GetTenant implements tenant.Store.
func (m *Memory) GetTenant(id string) (*tenant.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", id, tenant.ErrEntityNotFound)
	}
	return &t, nil
}

// GetApp implements tenant.Store.
func (m *Memory) GetApp(id string) (*tenant.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, fmt.Errorf("app %q: %w", id, tenant.ErrEntityNotFound)
	}
	return &a, nil
}

// GetPolicy implements tenant.Store.
func (m *Memory) GetPolicy(id string) (*tenant.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %q: %w", id, tenant.ErrEntityNotFound)
	}
	return &p, nil
}

// GetPartnerDefaultPolicy implements tenant.Store.
func (m *Memory) GetPartnerDefaultPolicy(partnerID string) (*tenant.Policy, error) {
	m.mu.RLock()
	policyID, ok := m.partners[partnerID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("partner %q default policy: %w", partnerID, tenant.ErrEntityNotFound)
	}
	return m.GetPolicy(policyID)
}

// ListPoliciesByCustomer implements scan.PolicyStore.
func (m *Memory) ListPoliciesByCustomer(_ context.Context, customerID string) ([]policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]policy.Policy(nil), m.condPolicies[customerID]...), nil
}

// ListSuppressions implements scan.SuppressionStore.
func (m *Memory) ListSuppressions(_ context.Context, tenantID string) ([]suppress.Suppression, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]suppress.Suppression(nil), m.suppressions[tenantID]...), nil
}
