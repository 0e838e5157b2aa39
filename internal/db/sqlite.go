package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
)

// Fixed width so that text comparison orders timestamps correctly.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is the embedded Store used for single-node deployments.
type SQLite struct {
	db *sql.DB
}

var _ store.Store = (*SQLite)(nil)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		api_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_policies (
		tenant_id TEXT PRIMARY KEY,
		run_policy TEXT NOT NULL,
		sample_rate_pct INTEGER NOT NULL,
		obfuscate_pii INTEGER NOT NULL,
		max_eval_per_day INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		interaction_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		score REAL NOT NULL,
		latency_ms INTEGER NOT NULL,
		flags TEXT NOT NULL,
		pii_tokens_redacted INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_evaluations_tenant_created ON evaluations (tenant_id, created_at)`,
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}

func sqliteNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLite) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, tenant.ID, tenant.Name, tenant.APIKey, formatTime(now), formatTime(now))
	if err != nil {
		return err
	}
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	return nil
}

func (s *SQLite) getTenant(ctx context.Context, where string, arg any) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key, created_at, updated_at FROM tenants WHERE `+where, arg)

	var t models.Tenant
	var created, updated string
	if err := row.Scan(&t.ID, &t.Name, &t.APIKey, &created, &updated); err != nil {
		return nil, sqliteNotFound(err)
	}
	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) GetTenantByID(ctx context.Context, id string) (*models.Tenant, error) {
	return s.getTenant(ctx, "id = ?", id)
}

func (s *SQLite) GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	return s.getTenant(ctx, "api_key = ?", apiKey)
}

func (s *SQLite) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, api_key, created_at, updated_at FROM tenants ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		var t models.Tenant
		var created, updated string
		if err := rows.Scan(&t.ID, &t.Name, &t.APIKey, &created, &updated); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *SQLite) UpdateTenant(ctx context.Context, id string, update store.TenantUpdate) error {
	var name any
	if update.Name != nil {
		name = *update.Name
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET name = COALESCE(?, name), updated_at = ? WHERE id = ?
	`, name, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *SQLite) DeleteTenant(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_policies WHERE tenant_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) RotateAPIKey(ctx context.Context, id, apiKey string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET api_key = ?, updated_at = ? WHERE id = ?
	`, apiKey, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *SQLite) GetPolicy(ctx context.Context, tenantID string) (*models.TenantPolicy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, run_policy, sample_rate_pct, obfuscate_pii, max_eval_per_day, updated_at
		FROM tenant_policies WHERE tenant_id = ?
	`, tenantID)

	var p models.TenantPolicy
	var runPolicy, updated string
	if err := row.Scan(&p.TenantID, &runPolicy, &p.SampleRatePct, &p.ObfuscatePII, &p.MaxEvalPerDay, &updated); err != nil {
		return nil, sqliteNotFound(err)
	}
	p.RunPolicy = models.RunPolicy(runPolicy)

	var err error
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLite) UpsertPolicy(ctx context.Context, p *models.TenantPolicy) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_policies (tenant_id, run_policy, sample_rate_pct, obfuscate_pii, max_eval_per_day, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			run_policy = excluded.run_policy,
			sample_rate_pct = excluded.sample_rate_pct,
			obfuscate_pii = excluded.obfuscate_pii,
			max_eval_per_day = excluded.max_eval_per_day,
			updated_at = excluded.updated_at
	`, p.TenantID, string(p.RunPolicy), p.SampleRatePct, p.ObfuscatePII, p.MaxEvalPerDay, formatTime(now))
	if err != nil {
		return err
	}
	p.UpdatedAt = now
	return nil
}

func (s *SQLite) AppendEvaluation(ctx context.Context, e *models.PersistedEvaluation) error {
	flags := e.Flags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, tenant_id, interaction_id, prompt, response, score, latency_ms, flags, pii_tokens_redacted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, e.InteractionID, e.Prompt, e.Response, e.Score, e.LatencyMs, string(flagsJSON), e.PIITokensRedacted, formatTime(e.CreatedAt))
	return err
}

func (s *SQLite) CountEvaluationsBetween(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM evaluations WHERE tenant_id = ? AND created_at >= ? AND created_at < ?
	`, tenantID, formatTime(from), formatTime(to)).Scan(&count)
	return count, err
}

func (s *SQLite) ListEvaluations(ctx context.Context, tenantID string, limit, offset int) ([]models.PersistedEvaluation, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations WHERE tenant_id = ?`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, interaction_id, prompt, response, score, latency_ms, flags, pii_tokens_redacted, created_at
		FROM evaluations
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	evals := []models.PersistedEvaluation{}
	for rows.Next() {
		var e models.PersistedEvaluation
		var flags, created string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.InteractionID, &e.Prompt, &e.Response, &e.Score, &e.LatencyMs, &flags, &e.PIITokensRedacted, &created); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(flags), &e.Flags); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal flags: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, 0, err
		}
		evals = append(evals, e)
	}
	return evals, total, rows.Err()
}

func (s *SQLite) EvaluationMetricsSince(ctx context.Context, tenantID string, since time.Time) ([]models.EvaluationMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT score, latency_ms, pii_tokens_redacted, created_at
		FROM evaluations
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at
	`, tenantID, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []models.EvaluationMetric
	for rows.Next() {
		var m models.EvaluationMetric
		var created string
		if err := rows.Scan(&m.Score, &m.LatencyMs, &m.PIITokensRedacted, &created); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
