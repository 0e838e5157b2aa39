package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/HanTheDev/eval-ingest-gateway/internal/admission"
	"github.com/HanTheDev/eval-ingest-gateway/internal/analytics"
	"github.com/HanTheDev/eval-ingest-gateway/internal/auth"
	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
	"github.com/HanTheDev/eval-ingest-gateway/internal/server"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
	"github.com/HanTheDev/eval-ingest-gateway/internal/usage"
)

const (
	maxBodyBytes     = 1 << 20
	defaultPageLimit = 50
	maxPageLimit     = 500
	defaultStatsDays = 30
)

type Handler struct {
	service *Service
	records store.RecordStore
	logger  *slog.Logger
}

func NewHandler(service *Service, records store.RecordStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		records: records,
		logger:  logger,
	}
}

// RegisterRoutes mounts the tenant-facing routes. The router is expected to
// sit behind auth.Middleware.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.Handle("/evals/ingest", h).Methods("POST")
	router.HandleFunc("/evals", h.ListEvaluations).Methods("GET")
	router.HandleFunc("/evals/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/usage", h.GetUsage).Methods("GET")
}

// ServeHTTP handles a single evaluation submission.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID := ""
	if claims, ok := auth.GetTenantFromContext(ctx); ok {
		tenantID = claims.TenantID
	}
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	server.AddLogField(ctx, "tenant_id", tenantID)

	var rec models.EvaluationRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rec); err != nil {
		server.AddError(ctx, err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.service.Ingest(ctx, tenantID, rec)
	if err != nil {
		server.AddError(ctx, err)
		switch {
		case errors.Is(err, ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "Unauthorized")
		case errors.Is(err, models.ErrMissingInteractionID):
			writeError(w, http.StatusBadRequest, models.ErrMissingInteractionID.Error())
		case errors.Is(err, ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "Invalid request")
		default:
			h.logger.Error("ingest failed",
				slog.String("tenant_id", tenantID),
				slog.String("interaction_id", rec.InteractionID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "Failed to ingest evaluation")
		}
		return
	}

	server.AddLogField(ctx, "outcome", string(res.Outcome))

	switch res.Outcome {
	case admission.Skip:
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "skipped",
			"reason": res.Reason,
		})
	case admission.Reject:
		w.Header().Set("X-Daily-Limit", strconv.Itoa(res.DailyCap))
		w.Header().Set("X-Daily-Remaining", "0")
		w.Header().Set("Retry-After", strconv.Itoa(secondsUntilReset(h.service.now())))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":  "Daily limit reached",
			"reason": res.Reason,
		})
	default:
		remaining := int64(res.DailyCap) - res.Usage
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-Daily-Limit", strconv.Itoa(res.DailyCap))
		w.Header().Set("X-Daily-Remaining", strconv.FormatInt(remaining, 10))
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"success":             true,
			"data":                res.Evaluation,
			"pii_tokens_redacted": res.Redacted,
		})
	}
}

func (h *Handler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit := queryInt(r, "limit", defaultPageLimit)
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	evals, total, err := h.records.ListEvaluations(r.Context(), claims.TenantID, limit, offset)
	if err != nil {
		h.logger.Error("list evaluations failed", slog.String("tenant_id", claims.TenantID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to list evaluations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   evals,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	days := queryInt(r, "days", defaultStatsDays)
	if days <= 0 {
		days = defaultStatsDays
	}
	since := usage.DayStart(h.service.now()).AddDate(0, 0, -(days - 1))

	metrics, err := h.records.EvaluationMetricsSince(r.Context(), claims.TenantID, since)
	if err != nil {
		h.logger.Error("load evaluation metrics failed", slog.String("tenant_id", claims.TenantID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to get analytics")
		return
	}

	writeJSON(w, http.StatusOK, analytics.Summarize(metrics))
}

func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	u, err := h.service.Usage(r.Context(), claims.TenantID)
	if err != nil {
		h.logger.Error("read usage failed", slog.String("tenant_id", claims.TenantID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to read usage")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// secondsUntilReset is the time left until the next UTC midnight.
func secondsUntilReset(now time.Time) int {
	next := usage.DayStart(now).Add(24 * time.Hour)
	return int(next.Sub(now.UTC()).Seconds())
}
