// cmd/sync-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"formsync/internal/common/config"
	"formsync/internal/common/database"
	"formsync/internal/common/logger"
	"formsync/internal/common/observability"
	"formsync/internal/formapi"
	"formsync/internal/match"
	"formsync/internal/migrate"
	"formsync/internal/reconcile"
	"formsync/internal/settings"
	"formsync/internal/storage"
	"formsync/internal/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting sync manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("sync-manager")

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Object Storage with retry ---
	var objStore *storage.Storage
	err = retryWithBackoff(func() error {
		var err error
		objStore, err = storage.New(cfg.Storage)
		if err != nil {
			return err
		}
		return objStore.EnsureBucket(ctx)
	}, 10, 2*time.Second, zapLog, "Object storage connection")

	if err != nil {
		zapLog.Fatal("object storage failed after retries", zap.Error(err))
	}
	zapLog.Info("Object storage ready")

	// --- Wire the sync pipeline ---
	callLog := store.NewCallLogStore(pg.DB)
	applicants := store.NewApplicantStore(pg.DB, log)
	settingsProvider := settings.NewProvider(pg.DB, redis.Client, 60*time.Second, log)
	apiClient := formapi.NewClient(cfg.FormAPI, log, callLog)
	migrator := migrate.New(objStore, callLog, log)

	service := reconcile.NewService(reconcile.Options{
		Settings: settingsProvider,
		SourceFor: func(apiKey string) reconcile.SubmissionSource {
			return apiClient.WithAPIKey(apiKey)
		},
		MatcherFor: func(source reconcile.SubmissionSource) reconcile.MatchFinder {
			return match.New(source, log, cfg.FormAPI.PublicBaseURL, cfg.FormAPI.MatchWindow)
		},
		Store:      applicants,
		Migrator:   migrator,
		IsExternal: objStore.IsExternalHostedURL,
		Obs:        obs,
		Logger:     log,
		PageSize:   cfg.FormAPI.PageSize,
	})

	zapLog.Info("Sync pipeline wired")

	// --- Health, Metrics & Trigger Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		checks := map[string]string{"postgres": "ok", "redis": "ok"}
		healthy := true
		if err := pg.Ping(r.Context()); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		}
		if err := redis.Ping(r.Context()); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
		status := "healthy"
		if !healthy {
			status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": status,
			"checks": checks,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	// pprof registers on the default mux.
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		summary, err := service.Sync(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(summary)
	})

	mux.HandleFunc("/submission", func(w http.ResponseWriter, r *http.Request) {
		submissionID := r.URL.Query().Get("id")
		if submissionID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		values, err := settingsProvider.Values(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		apiKey := values[settings.KeyFormAPIKey]
		if apiKey == "" {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "setting form_api_key is not configured"})
			return
		}
		sub, err := apiClient.WithAPIKey(apiKey).Submission(r.Context(), submissionID)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(sub)
	})

	mux.HandleFunc("/compliance", func(w http.ResponseWriter, r *http.Request) {
		target := match.Target{
			Email:     r.URL.Query().Get("email"),
			FirstName: r.URL.Query().Get("firstName"),
			LastName:  r.URL.Query().Get("lastName"),
		}
		w.Header().Set("Content-Type", "application/json")
		results, err := service.ComplianceProfile(r.Context(), target)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(results)
	})

	mux.HandleFunc("/settings/invalidate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		settingsProvider.Invalidate(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/resume-url", func(w http.ResponseWriter, r *http.Request) {
		objectKey := r.URL.Query().Get("path")
		if objectKey == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		signed, err := objStore.SignedURL(r.Context(), objectKey)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"url": signed})
	})

	server := &http.Server{
		Addr:    cfg.Sync.ListenAddress,
		Handler: mux,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Sync.ListenAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Scheduled Cycles ---
	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	interval := time.Duration(cfg.Sync.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	go func() {
		if _, err := service.Sync(runCtx); err != nil {
			zapLog.Error("initial sync cycle failed", zap.Error(err))
		}
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if _, err := service.Sync(runCtx); err != nil {
					zapLog.Error("scheduled sync cycle failed", zap.Error(err))
				}
			}
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping sync manager...")
	cancelRuns()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down observability", zap.Error(err))
	}

	zapLog.Info("Sync manager stopped gracefully")
}
