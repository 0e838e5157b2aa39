package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultDailyCap applies when a tenant has no policy or a non-positive cap.
const DefaultDailyCap = 10000

type RunPolicy string

const (
	RunAlways  RunPolicy = "always"
	RunSampled RunPolicy = "sampled"
)

var ErrMissingInteractionID = errors.New("interaction_id is required")

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantPolicy is the per-tenant ingestion configuration.
type TenantPolicy struct {
	TenantID      string    `json:"tenant_id"`
	RunPolicy     RunPolicy `json:"run_policy"`
	SampleRatePct int       `json:"sample_rate_pct"`
	ObfuscatePII  bool      `json:"obfuscate_pii"`
	MaxEvalPerDay int       `json:"max_eval_per_day"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultPolicy is what a tenant without a stored policy gets.
func DefaultPolicy(tenantID string, dailyCap int) TenantPolicy {
	if dailyCap <= 0 {
		dailyCap = DefaultDailyCap
	}
	return TenantPolicy{
		TenantID:      tenantID,
		RunPolicy:     RunAlways,
		SampleRatePct: 100,
		ObfuscatePII:  false,
		MaxEvalPerDay: dailyCap,
	}
}

// DailyCap returns the effective cap, falling back to DefaultDailyCap.
func (p TenantPolicy) DailyCap() int {
	if p.MaxEvalPerDay <= 0 {
		return DefaultDailyCap
	}
	return p.MaxEvalPerDay
}

func (p TenantPolicy) Validate() error {
	switch p.RunPolicy {
	case RunAlways, RunSampled:
	default:
		return fmt.Errorf("run_policy must be %q or %q", RunAlways, RunSampled)
	}
	if p.SampleRatePct < 0 || p.SampleRatePct > 100 {
		return errors.New("sample_rate_pct must be between 0 and 100")
	}
	if p.MaxEvalPerDay <= 0 {
		return errors.New("max_eval_per_day must be positive")
	}
	return nil
}

// EvaluationRecord is a single evaluation as submitted by a monitoring client.
type EvaluationRecord struct {
	InteractionID string   `json:"interaction_id"`
	Prompt        string   `json:"prompt"`
	Response      string   `json:"response"`
	Score         float64  `json:"score"`
	LatencyMs     int      `json:"latency_ms"`
	Flags         []string `json:"flags"`
}

// Normalize applies neutral defaults to best-effort fields.
func (r *EvaluationRecord) Normalize() {
	r.InteractionID = strings.TrimSpace(r.InteractionID)
	if r.LatencyMs < 0 {
		r.LatencyMs = 0
	}

	flags := make([]string, 0, len(r.Flags))
	seen := make(map[string]struct{}, len(r.Flags))
	for _, f := range r.Flags {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		flags = append(flags, f)
	}
	r.Flags = flags
}

func (r *EvaluationRecord) Validate() error {
	if strings.TrimSpace(r.InteractionID) == "" {
		return ErrMissingInteractionID
	}
	return nil
}

// PersistedEvaluation is an admitted record after redaction.
type PersistedEvaluation struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"user_id"`
	InteractionID     string    `json:"interaction_id"`
	Prompt            string    `json:"prompt"`
	Response          string    `json:"response"`
	Score             float64   `json:"score"`
	LatencyMs         int       `json:"latency_ms"`
	Flags             []string  `json:"flags"`
	PIITokensRedacted int       `json:"pii_tokens_redacted"`
	CreatedAt         time.Time `json:"created_at"`
}

// EvaluationMetric is the numeric projection of a stored evaluation used for analytics.
type EvaluationMetric struct {
	Score             float64
	LatencyMs         int
	PIITokensRedacted int
	CreatedAt         time.Time
}

type ScoreBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

type DailyStat struct {
	Date         string  `json:"date"`
	Count        int     `json:"count"`
	AvgScore     float64 `json:"avg_score"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

type EvaluationStats struct {
	Total             int           `json:"total"`
	AvgScore          float64       `json:"avg_score"`
	AvgLatencyMs      float64       `json:"avg_latency_ms"`
	PIITokensRedacted int           `json:"pii_tokens_redacted"`
	ScoreDistribution []ScoreBucket `json:"score_distribution"`
	Daily             []DailyStat   `json:"daily"`
}

type Usage struct {
	TenantID  string `json:"tenant_id"`
	Day       string `json:"day"`
	Count     int64  `json:"count"`
	DailyCap  int    `json:"daily_cap"`
	Remaining int64  `json:"remaining"`
}
