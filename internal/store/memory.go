package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
)

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu          sync.RWMutex
	tenants     map[string]models.Tenant
	policies    map[string]models.TenantPolicy
	evaluations []models.PersistedEvaluation
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		tenants:  make(map[string]models.Tenant),
		policies: make(map[string]models.TenantPolicy),
	}
}

func (m *Memory) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	m.tenants[tenant.ID] = *tenant
	return nil
}

func (m *Memory) GetTenantByID(_ context.Context, id string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *Memory) GetTenantByAPIKey(_ context.Context, apiKey string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tenants {
		if t.APIKey == apiKey {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListTenants(_ context.Context) ([]models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]models.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		tenants = append(tenants, t)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].CreatedAt.Before(tenants[j].CreatedAt) })
	return tenants, nil
}

func (m *Memory) UpdateTenant(_ context.Context, id string, update TenantUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	if update.Name != nil {
		t.Name = *update.Name
	}
	t.UpdatedAt = time.Now().UTC()
	m.tenants[id] = t
	return nil
}

func (m *Memory) DeleteTenant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[id]; !ok {
		return ErrNotFound
	}
	delete(m.tenants, id)
	delete(m.policies, id)
	return nil
}

func (m *Memory) RotateAPIKey(_ context.Context, id, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.APIKey = apiKey
	t.UpdatedAt = time.Now().UTC()
	m.tenants[id] = t
	return nil
}

func (m *Memory) GetPolicy(_ context.Context, tenantID string) (*models.TenantPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) UpsertPolicy(_ context.Context, policy *models.TenantPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy.UpdatedAt = time.Now().UTC()
	m.policies[policy.TenantID] = *policy
	return nil
}

func (m *Memory) AppendEvaluation(_ context.Context, eval *models.PersistedEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *eval
	stored.Flags = append([]string(nil), eval.Flags...)
	m.evaluations = append(m.evaluations, stored)
	return nil
}

func (m *Memory) CountEvaluationsBetween(_ context.Context, tenantID string, from, to time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, e := range m.evaluations {
		if e.TenantID == tenantID && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListEvaluations(_ context.Context, tenantID string, limit, offset int) ([]models.PersistedEvaluation, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.PersistedEvaluation
	for i := len(m.evaluations) - 1; i >= 0; i-- {
		if m.evaluations[i].TenantID == tenantID {
			e := m.evaluations[i]
			e.Flags = append([]string(nil), e.Flags...)
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.PersistedEvaluation{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *Memory) EvaluationMetricsSince(_ context.Context, tenantID string, since time.Time) ([]models.EvaluationMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var metrics []models.EvaluationMetric
	for _, e := range m.evaluations {
		if e.TenantID != tenantID || e.CreatedAt.Before(since) {
			continue
		}
		metrics = append(metrics, models.EvaluationMetric{
			Score:             e.Score,
			LatencyMs:         e.LatencyMs,
			PIITokensRedacted: e.PIITokensRedacted,
			CreatedAt:         e.CreatedAt,
		})
	}
	return metrics, nil
}

func (m *Memory) Close() error { return nil }
