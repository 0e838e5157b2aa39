package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/HanTheDev/eval-ingest-gateway/internal/admin"
	"github.com/HanTheDev/eval-ingest-gateway/internal/admission"
	"github.com/HanTheDev/eval-ingest-gateway/internal/auth"
	"github.com/HanTheDev/eval-ingest-gateway/internal/cache"
	"github.com/HanTheDev/eval-ingest-gateway/internal/config"
	"github.com/HanTheDev/eval-ingest-gateway/internal/db"
	"github.com/HanTheDev/eval-ingest-gateway/internal/ingest"
	"github.com/HanTheDev/eval-ingest-gateway/internal/redact"
	"github.com/HanTheDev/eval-ingest-gateway/internal/server"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
	"github.com/HanTheDev/eval-ingest-gateway/internal/telemetry"
	"github.com/HanTheDev/eval-ingest-gateway/internal/usage"
)

const version = "1.0.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTracer("eval-ingest-gateway", logger)
		if err != nil {
			log.Fatal("Failed to initialize tracer:", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize storage
	st, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open store:", err)
	}
	defer st.Close()

	// Redis backs the usage counter and the policy cache
	redisClient, err := usage.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}
	defer redisClient.Close()

	counter := newCounter(cfg, st, redisClient)
	policies := cache.NewPolicyCache(st, redisClient, cfg.PolicyCacheTTL, logger)

	service := ingest.NewService(
		policies,
		counter,
		st,
		admission.NewController(nil),
		redact.New(),
		ingest.WithStoreTimeout(cfg.StoreTimeout),
		ingest.WithDefaultDailyCap(cfg.DefaultDailyCap),
		ingest.WithLogger(logger),
	)

	// Initialize router
	router := mux.NewRouter()
	router.Use(server.RequestIDMiddleware, server.LoggingMiddleware(logger))

	// Public routes
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/auth/token", tokenHandler(st, cfg.JWTSecret, logger)).Methods("POST")

	// Operator routes
	adminHandler := admin.NewAdminHandler(st, service, policies, logger)
	adminRouter := router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(auth.RequireAdminKey(cfg.AdminAPIKey))
	adminHandler.RegisterRoutes(adminRouter)
	if cfg.AdminAPIKey == "" {
		logger.Warn("ADMIN_API_KEY is not set, admin routes are unauthenticated")
	}

	// Tenant routes
	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(authMiddleware.Authenticate, server.TimeoutMiddleware(cfg.RequestTimeout))
	ingest.NewHandler(service, st, logger).RegisterRoutes(apiRouter)
	adminHandler.RegisterSelfServiceRoutes(apiRouter)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           otelhttp.NewHandler(router, "eval-ingest-gateway"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.ServerPort),
			slog.String("store", cfg.StoreDriver),
			slog.String("usage_backend", cfg.UsageBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed:", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("server stopped")
}

func newCounter(cfg *config.Config, st store.Store, client *redis.Client) usage.Counter {
	if cfg.UsageBackend == "store" {
		return usage.NewStoreCounter(st)
	}
	return usage.NewRedisCounter(client)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func tokenHandler(tenants store.TenantStore, jwtSecret string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			APIKey string `json:"api_key"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		tenant, err := tenants.GetTenantByAPIKey(r.Context(), req.APIKey)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}
		if err != nil {
			logger.Error("tenant lookup failed", slog.String("error", err.Error()))
			http.Error(w, "Failed to look up tenant", http.StatusInternalServerError)
			return
		}

		token, err := auth.GenerateToken(tenant.ID, jwtSecret, auth.DefaultTokenTTL)
		if err != nil {
			logger.Error("token generation failed", slog.String("tenant_id", tenant.ID), slog.String("error", err.Error()))
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		server.AddLogField(r.Context(), "tenant_id", tenant.ID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      token,
			"expires_in": int(auth.DefaultTokenTTL.Seconds()),
		})
	}
}
