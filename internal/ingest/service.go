// Package ingest runs the admission and redaction pipeline for a single
// evaluation record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HanTheDev/eval-ingest-gateway/internal/admission"
	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
	"github.com/HanTheDev/eval-ingest-gateway/internal/redact"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
	"github.com/HanTheDev/eval-ingest-gateway/internal/usage"
)

const DefaultStoreTimeout = 2 * time.Second

// Result describes how a record was handled. Evaluation is set only when
// the record was admitted.
type Result struct {
	Outcome    admission.Outcome
	Reason     string
	Evaluation *models.PersistedEvaluation
	Redacted   int
	Usage      int64
	DailyCap   int
}

type Service struct {
	policies   store.PolicyReader
	counter    usage.Counter
	records    store.RecordStore
	controller *admission.Controller
	redactor   *redact.Redactor

	timeout    time.Duration
	defaultCap int
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
	tracer     trace.Tracer
}

type Option func(*Service)

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDefaultDailyCap sets the cap used for tenants without a stored policy.
func WithDefaultDailyCap(n int) Option {
	return func(s *Service) { s.defaultCap = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(
	policies store.PolicyReader,
	counter usage.Counter,
	records store.RecordStore,
	controller *admission.Controller,
	redactor *redact.Redactor,
	opts ...Option,
) *Service {
	s := &Service{
		policies:   policies,
		counter:    counter,
		records:    records,
		controller: controller,
		redactor:   redactor,
		timeout:    DefaultStoreTimeout,
		defaultCap: models.DefaultDailyCap,
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/HanTheDev/eval-ingest-gateway/internal/ingest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.controller == nil {
		s.controller = admission.NewController(nil)
	}
	if s.redactor == nil {
		s.redactor = redact.New()
	}
	return s
}

// Ingest admits, redacts and stores one record for tenantID. Skip and Reject
// are reported through Result, not as errors.
func (s *Service) Ingest(ctx context.Context, tenantID string, rec models.EvaluationRecord) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.Ingest")
	defer span.End()

	res, err := s.ingest(ctx, tenantID, &rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("ingest.outcome", string(res.Outcome)),
		attribute.Int("ingest.pii_redacted", res.Redacted),
	)
	return res, nil
}

func (s *Service) ingest(ctx context.Context, tenantID string, rec *models.EvaluationRecord) (*Result, error) {
	if tenantID == "" {
		return nil, ErrUnauthorized
	}

	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	policy, err := s.Policy(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	decision, err := s.controller.Decide(policy, rec, func() (int64, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		n, err := s.counter.Current(ctx, tenantID, now)
		if err != nil {
			return 0, storeError("read usage", err)
		}
		return n, nil
	})
	if err != nil {
		if errors.Is(err, models.ErrMissingInteractionID) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, err
	}

	res := &Result{
		Outcome:  decision.Outcome,
		Reason:   decision.Reason,
		Usage:    decision.Usage,
		DailyCap: decision.Cap,
	}
	if decision.Outcome != admission.Admit {
		s.logger.Info("evaluation not admitted",
			slog.String("tenant_id", tenantID),
			slog.String("interaction_id", rec.InteractionID),
			slog.String("outcome", string(decision.Outcome)),
			slog.String("reason", decision.Reason),
		)
		return res, nil
	}

	eval := &models.PersistedEvaluation{
		ID:            s.newID(),
		TenantID:      tenantID,
		InteractionID: rec.InteractionID,
		Prompt:        rec.Prompt,
		Response:      rec.Response,
		Score:         rec.Score,
		LatencyMs:     rec.LatencyMs,
		Flags:         rec.Flags,
		CreatedAt:     now,
	}
	if policy.ObfuscatePII {
		_, span := s.tracer.Start(ctx, "ingest.Redact")
		redacted := s.redactor.RedactFields(rec.Prompt, rec.Response)
		span.SetAttributes(attribute.Int("redact.count", redacted.Count))
		span.End()

		eval.Prompt = redacted.Prompt
		eval.Response = redacted.Response
		eval.PIITokensRedacted = redacted.Count
	}

	count, err := s.commit(ctx, eval, decision.Usage)
	if err != nil {
		return nil, err
	}

	res.Evaluation = eval
	res.Redacted = eval.PIITokensRedacted
	res.Usage = count

	s.logger.Info("evaluation admitted",
		slog.String("tenant_id", tenantID),
		slog.String("interaction_id", eval.InteractionID),
		slog.String("evaluation_id", eval.ID),
		slog.Int("pii_tokens_redacted", eval.PIITokensRedacted),
		slog.Int64("daily_usage", count),
	)
	return res, nil
}

// commit writes the record and then advances the usage counter. The counter
// never moves ahead of the store: a failed write leaves it untouched, and a
// failed increment after a successful write is logged and the record stands.
func (s *Service) commit(ctx context.Context, eval *models.PersistedEvaluation, prior int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.Commit")
	defer span.End()

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.records.AppendEvaluation(writeCtx, eval)
	cancel()
	if err != nil {
		return 0, storeError("append evaluation", err)
	}

	incCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	count, err := s.counter.Increment(incCtx, eval.TenantID, eval.CreatedAt)
	if err != nil {
		s.logger.Warn("usage increment failed after write",
			slog.String("tenant_id", eval.TenantID),
			slog.String("evaluation_id", eval.ID),
			slog.String("error", err.Error()),
		)
		return prior + 1, nil
	}
	return count, nil
}

// Policy resolves the tenant's policy, falling back to defaults when none is stored.
func (s *Service) Policy(ctx context.Context, tenantID string) (models.TenantPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.policies.GetPolicy(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DefaultPolicy(tenantID, s.defaultCap), nil
	}
	if err != nil {
		return models.TenantPolicy{}, storeError("get policy", err)
	}
	return *p, nil
}

// Usage reports the tenant's admitted count for the current UTC day.
func (s *Service) Usage(ctx context.Context, tenantID string) (*models.Usage, error) {
	if tenantID == "" {
		return nil, ErrUnauthorized
	}
	policy, err := s.Policy(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	count, err := s.counter.Current(readCtx, tenantID, now)
	if err != nil {
		return nil, storeError("read usage", err)
	}

	remaining := int64(policy.DailyCap()) - count
	if remaining < 0 {
		remaining = 0
	}
	return &models.Usage{
		TenantID:  tenantID,
		Day:       usage.DayKey(now),
		Count:     count,
		DailyCap:  policy.DailyCap(),
		Remaining: remaining,
	}, nil
}
