package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (db *DB) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	query := `
        INSERT INTO tenants (id, name, api_key)
        VALUES ($1, $2, $3)
        RETURNING created_at, updated_at
    `

	return db.Pool.QueryRow(ctx, query, tenant.ID, tenant.Name, tenant.APIKey).
		Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
}

func (db *DB) getTenant(ctx context.Context, where string, arg any) (*models.Tenant, error) {
	query := `
        SELECT id, name, api_key, created_at, updated_at
        FROM tenants
        WHERE ` + where

	var tenant models.Tenant
	err := db.Pool.QueryRow(ctx, query, arg).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.APIKey,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return &tenant, nil
}

func (db *DB) GetTenantByID(ctx context.Context, id string) (*models.Tenant, error) {
	return db.getTenant(ctx, "id = $1", id)
}

func (db *DB) GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	return db.getTenant(ctx, "api_key = $1", apiKey)
}

func (db *DB) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT id, name, api_key, created_at, updated_at
        FROM tenants
        ORDER BY created_at
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.APIKey, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (db *DB) UpdateTenant(ctx context.Context, id string, update store.TenantUpdate) error {
	tag, err := db.Pool.Exec(ctx, `
        UPDATE tenants
        SET name = COALESCE($2, name), updated_at = NOW()
        WHERE id = $1
    `, id, update.Name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (db *DB) DeleteTenant(ctx context.Context, id string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM tenant_policies WHERE tenant_id = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (db *DB) RotateAPIKey(ctx context.Context, id, apiKey string) error {
	tag, err := db.Pool.Exec(ctx, `
        UPDATE tenants SET api_key = $2, updated_at = NOW() WHERE id = $1
    `, id, apiKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (db *DB) GetPolicy(ctx context.Context, tenantID string) (*models.TenantPolicy, error) {
	query := `
        SELECT tenant_id, run_policy, sample_rate_pct, obfuscate_pii, max_eval_per_day, updated_at
        FROM tenant_policies
        WHERE tenant_id = $1
    `

	var p models.TenantPolicy
	var runPolicy string
	err := db.Pool.QueryRow(ctx, query, tenantID).Scan(
		&p.TenantID,
		&runPolicy,
		&p.SampleRatePct,
		&p.ObfuscatePII,
		&p.MaxEvalPerDay,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	p.RunPolicy = models.RunPolicy(runPolicy)

	return &p, nil
}

func (db *DB) UpsertPolicy(ctx context.Context, p *models.TenantPolicy) error {
	query := `
        INSERT INTO tenant_policies (tenant_id, run_policy, sample_rate_pct, obfuscate_pii, max_eval_per_day, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (tenant_id) DO UPDATE
        SET run_policy = EXCLUDED.run_policy,
            sample_rate_pct = EXCLUDED.sample_rate_pct,
            obfuscate_pii = EXCLUDED.obfuscate_pii,
            max_eval_per_day = EXCLUDED.max_eval_per_day,
            updated_at = NOW()
        RETURNING updated_at
    `

	return db.Pool.QueryRow(ctx, query,
		p.TenantID,
		string(p.RunPolicy),
		p.SampleRatePct,
		p.ObfuscatePII,
		p.MaxEvalPerDay,
	).Scan(&p.UpdatedAt)
}

func (db *DB) AppendEvaluation(ctx context.Context, e *models.PersistedEvaluation) error {
	query := `
        INSERT INTO evaluations (id, tenant_id, interaction_id, prompt, response, score, latency_ms, flags, pii_tokens_redacted, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `

	flags := e.Flags
	if flags == nil {
		flags = []string{}
	}

	_, err := db.Pool.Exec(ctx, query,
		e.ID,
		e.TenantID,
		e.InteractionID,
		e.Prompt,
		e.Response,
		e.Score,
		e.LatencyMs,
		flags,
		e.PIITokensRedacted,
		e.CreatedAt,
	)

	return err
}

func (db *DB) CountEvaluationsBetween(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	var count int64
	err := db.Pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM evaluations WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
    `, tenantID, from, to).Scan(&count)
	return count, err
}

func (db *DB) ListEvaluations(ctx context.Context, tenantID string, limit, offset int) ([]models.PersistedEvaluation, int64, error) {
	var total int64
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM evaluations WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.Pool.Query(ctx, `
        SELECT id, tenant_id, interaction_id, prompt, response, score, latency_ms, flags, pii_tokens_redacted, created_at
        FROM evaluations
        WHERE tenant_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3
    `, tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	evals := []models.PersistedEvaluation{}
	for rows.Next() {
		var e models.PersistedEvaluation
		if err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.InteractionID,
			&e.Prompt,
			&e.Response,
			&e.Score,
			&e.LatencyMs,
			&e.Flags,
			&e.PIITokensRedacted,
			&e.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		evals = append(evals, e)
	}
	return evals, total, rows.Err()
}

func (db *DB) EvaluationMetricsSince(ctx context.Context, tenantID string, since time.Time) ([]models.EvaluationMetric, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT score, latency_ms, pii_tokens_redacted, created_at
        FROM evaluations
        WHERE tenant_id = $1 AND created_at >= $2
        ORDER BY created_at
    `, tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []models.EvaluationMetric
	for rows.Next() {
		var m models.EvaluationMetric
		if err := rows.Scan(&m.Score, &m.LatencyMs, &m.PIITokensRedacted, &m.CreatedAt); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
