// Package store defines the persistence boundaries used by the gateway:
// tenants, tenant policies and evaluation records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
)

var ErrNotFound = errors.New("not found")

// PolicyReader resolves a tenant's policy. It returns ErrNotFound when the
// tenant has none stored.
type PolicyReader interface {
	GetPolicy(ctx context.Context, tenantID string) (*models.TenantPolicy, error)
}

type PolicyStore interface {
	PolicyReader
	UpsertPolicy(ctx context.Context, policy *models.TenantPolicy) error
}

// RecordStore is the append-only evaluation store.
type RecordStore interface {
	AppendEvaluation(ctx context.Context, eval *models.PersistedEvaluation) error
	// CountEvaluationsBetween counts records with from <= created_at < to.
	CountEvaluationsBetween(ctx context.Context, tenantID string, from, to time.Time) (int64, error)
	ListEvaluations(ctx context.Context, tenantID string, limit, offset int) ([]models.PersistedEvaluation, int64, error)
	EvaluationMetricsSince(ctx context.Context, tenantID string, since time.Time) ([]models.EvaluationMetric, error)
}

type TenantUpdate struct {
	Name *string `json:"name"`
}

type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByID(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	UpdateTenant(ctx context.Context, id string, update TenantUpdate) error
	DeleteTenant(ctx context.Context, id string) error
	RotateAPIKey(ctx context.Context, id, apiKey string) error
}

// Store is implemented by every backend.
type Store interface {
	TenantStore
	PolicyStore
	RecordStore
	Close() error
}
