package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/HanTheDev/eval-ingest-gateway/internal/analytics"
	"github.com/HanTheDev/eval-ingest-gateway/internal/auth"
	"github.com/HanTheDev/eval-ingest-gateway/internal/ingest"
	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
	"github.com/HanTheDev/eval-ingest-gateway/internal/usage"
)

const defaultAnalyticsDays = 30

// PolicyInvalidator drops cached copies of a tenant's policy.
type PolicyInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

type AdminHandler struct {
	store       store.Store
	service     *ingest.Service
	invalidator PolicyInvalidator
	logger      *slog.Logger
	now         func() time.Time
}

func NewAdminHandler(st store.Store, service *ingest.Service, invalidator PolicyInvalidator, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		store:       st,
		service:     service,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// RegisterRoutes mounts operator routes. The router is expected to sit
// behind auth.RequireAdminKey.
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	// Tenant management
	router.HandleFunc("/tenants", h.ListTenants).Methods("GET")
	router.HandleFunc("/tenants", h.CreateTenant).Methods("POST")
	router.HandleFunc("/tenants/{id}", h.GetTenant).Methods("GET")
	router.HandleFunc("/tenants/{id}", h.UpdateTenant).Methods("PUT")
	router.HandleFunc("/tenants/{id}", h.DeleteTenant).Methods("DELETE")
	router.HandleFunc("/tenants/{id}/rotate-key", h.RotateAPIKey).Methods("POST")

	// Policy
	router.HandleFunc("/tenants/{id}/policy", h.GetPolicy).Methods("GET")
	router.HandleFunc("/tenants/{id}/policy", h.PutPolicy).Methods("PUT")

	// Analytics
	router.HandleFunc("/tenants/{id}/analytics", h.GetAnalytics).Methods("GET")
	router.HandleFunc("/tenants/{id}/usage", h.GetUsage).Methods("GET")
}

// RegisterSelfServiceRoutes mounts the caller's own policy endpoints. The
// router is expected to sit behind auth.Middleware.
func (h *AdminHandler) RegisterSelfServiceRoutes(router *mux.Router) {
	router.HandleFunc("/config", h.GetOwnPolicy).Methods("GET")
	router.HandleFunc("/config", h.PutOwnPolicy).Methods("PUT")
}

func (h *AdminHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string               `json:"name"`
		Policy *models.TenantPolicy `json:"policy"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate API key")
		return
	}

	tenant := &models.Tenant{
		ID:     uuid.NewString(),
		Name:   req.Name,
		APIKey: apiKey,
	}

	if req.Policy != nil {
		req.Policy.TenantID = tenant.ID
		if err := req.Policy.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.store.CreateTenant(r.Context(), tenant); err != nil {
		h.logger.Error("create tenant failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to create tenant")
		return
	}

	if req.Policy != nil {
		if err := h.store.UpsertPolicy(r.Context(), req.Policy); err != nil {
			h.logger.Error("store initial policy failed", slog.String("tenant_id", tenant.ID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to store policy")
			return
		}
	}

	h.logger.Info("tenant created", slog.String("tenant_id", tenant.ID), slog.String("name", tenant.Name))
	writeJSON(w, http.StatusCreated, tenant)
}

func (h *AdminHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.ListTenants(r.Context())
	if err != nil {
		h.logger.Error("list tenants failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to list tenants")
		return
	}

	writeJSON(w, http.StatusOK, tenants)
}

func (h *AdminHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tenant, err := h.store.GetTenantByID(r.Context(), id)
	if err != nil {
		h.storeFailure(w, err, "Failed to get tenant")
		return
	}

	writeJSON(w, http.StatusOK, tenant)
}

func (h *AdminHandler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var updates struct {
		Name *string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if updates.Name != nil && *updates.Name == "" {
		writeError(w, http.StatusBadRequest, "Name cannot be empty")
		return
	}

	if err := h.store.UpdateTenant(r.Context(), id, store.TenantUpdate{Name: updates.Name}); err != nil {
		h.storeFailure(w, err, "Failed to update tenant")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *AdminHandler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.store.DeleteTenant(r.Context(), id); err != nil {
		h.storeFailure(w, err, "Failed to delete tenant")
		return
	}
	h.invalidate(r.Context(), id)

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	newAPIKey, err := generateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate API key")
		return
	}

	if err := h.store.RotateAPIKey(r.Context(), id, newAPIKey); err != nil {
		h.storeFailure(w, err, "Failed to rotate API key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"api_key": newAPIKey,
		"status":  "rotated",
	})
}

func (h *AdminHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	h.getPolicy(w, r, mux.Vars(r)["id"])
}

func (h *AdminHandler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.store.GetTenantByID(r.Context(), id); err != nil {
		h.storeFailure(w, err, "Failed to update policy")
		return
	}
	h.putPolicy(w, r, id)
}

func (h *AdminHandler) GetOwnPolicy(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.getPolicy(w, r, claims.TenantID)
}

func (h *AdminHandler) PutOwnPolicy(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.putPolicy(w, r, claims.TenantID)
}

// getPolicy returns the effective policy, which is the default for tenants
// that never stored one.
func (h *AdminHandler) getPolicy(w http.ResponseWriter, r *http.Request, tenantID string) {
	policy, err := h.service.Policy(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("get policy failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to get policy")
		return
	}

	writeJSON(w, http.StatusOK, policy)
}

func (h *AdminHandler) putPolicy(w http.ResponseWriter, r *http.Request, tenantID string) {
	var policy models.TenantPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	policy.TenantID = tenantID

	if err := policy.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.UpsertPolicy(r.Context(), &policy); err != nil {
		h.logger.Error("upsert policy failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to update policy")
		return
	}
	h.invalidate(r.Context(), tenantID)

	h.logger.Info("policy updated",
		slog.String("tenant_id", tenantID),
		slog.String("run_policy", string(policy.RunPolicy)),
		slog.Int("sample_rate_pct", policy.SampleRatePct),
		slog.Bool("obfuscate_pii", policy.ObfuscatePII),
		slog.Int("max_eval_per_day", policy.MaxEvalPerDay),
	)
	writeJSON(w, http.StatusOK, policy)
}

func (h *AdminHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	// from/to are YYYY-MM-DD; "to" is inclusive.
	since := usage.DayStart(h.now()).AddDate(0, 0, -(defaultAnalyticsDays - 1))
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date")
			return
		}
		since = t
	}
	var until time.Time
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date")
			return
		}
		until = t.AddDate(0, 0, 1)
	}

	metrics, err := h.store.EvaluationMetricsSince(r.Context(), tenantID, since)
	if err != nil {
		h.logger.Error("load evaluation metrics failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to get analytics")
		return
	}
	if !until.IsZero() {
		kept := metrics[:0]
		for _, m := range metrics {
			if m.CreatedAt.Before(until) {
				kept = append(kept, m)
			}
		}
		metrics = kept
	}

	writeJSON(w, http.StatusOK, analytics.Summarize(metrics))
}

func (h *AdminHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	u, err := h.service.Usage(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("read usage failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to read usage")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (h *AdminHandler) invalidate(ctx context.Context, tenantID string) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.Invalidate(ctx, tenantID); err != nil {
		h.logger.Warn("policy cache invalidation failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
	}
}

func (h *AdminHandler) storeFailure(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Tenant not found")
		return
	}
	h.logger.Error(msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func generateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
