// Package main is the entry point for the SafeRoam incident server.
// It provides a REST API for tourist-safety incident reporting: submission
// with hashed evidence attachments, operator acknowledge/resolve flows,
// mocked blockchain anchoring of evidence hashes, and integrity checks.
//
// Architecture:
//   - All mutation goes through the incident lifecycle service; the status,
//     anchor and verification state machines are enforced there
//   - Every incident carries an append-only audit log of what happened to it
//   - Storage is pluggable: a local JSON-file store (seeded with demo data)
//     or PostgreSQL, selected by STORE_BACKEND
//   - The "blockchain" and "PSTN" integrations are explicit mocks; evidence
//     hashes are real SHA-256 digests
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/saferoam/incident-server/internal/config"
	"github.com/saferoam/incident-server/internal/database"
	"github.com/saferoam/incident-server/internal/handlers"
	"github.com/saferoam/incident-server/internal/middleware"
	"github.com/saferoam/incident-server/internal/services"
	"github.com/saferoam/incident-server/internal/store"
	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Failed to load config: %v", err)
	}

	sugar.Infow("Starting SafeRoam Incident Server",
		"port", cfg.Port,
		"env", cfg.Environment,
		"store", cfg.StoreBackend,
	)

	// Select the persistence backend once, at construction time
	var st store.Store
	switch cfg.StoreBackend {
	case "postgres":
		pool, err := database.NewPool(context.Background(), cfg.DatabaseURL)
		if err != nil {
			sugar.Fatalf("Failed to connect to database: %v", err)
		}
		st, err = store.NewPostgres(context.Background(), pool, sugar)
		if err != nil {
			sugar.Fatalf("Failed to initialize postgres store: %v", err)
		}
	default:
		st, err = store.NewLocal(cfg.LocalStorePath, sugar)
		if err != nil {
			sugar.Fatalf("Failed to initialize local store: %v", err)
		}
	}
	defer st.Close()

	// Optional Redis for shared rate-limit counters
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			sugar.Warnf("Invalid REDIS_URL, using in-memory rate limiting: %v", err)
		} else {
			rdb = redis.NewClient(opts)
			defer rdb.Close()
		}
	}

	// Initialize the lifecycle service
	lifecycle := services.NewLifecycle(st, sugar, services.Options{
		AnchorDelay:    cfg.AnchorDelay,
		VerifyFailRate: cfg.VerifyFailRate,
		ExplorerBase:   cfg.ExplorerBaseURL,
	})

	// Initialize handlers
	incidentHandler := handlers.NewIncidentHandler(lifecycle, sugar)
	authHandler := handlers.NewAuthHandler(cfg.JWTSecret, cfg.OperatorUser, cfg.OperatorPasswordHash, sugar)
	healthHandler := handlers.NewHealthHandler(st, sugar)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limiting
	r.Use(middleware.RateLimit(cfg.RateLimitRPM, rdb))

	// API Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health checks
		r.Get("/health", healthHandler.Check)
		r.Get("/health/ready", healthHandler.Ready)

		// Operator login
		r.Post("/auth/login", authHandler.Login)

		r.Route("/incidents", func(r chi.Router) {
			// Public: tourists submit and view incidents
			r.Post("/", incidentHandler.Submit)
			r.Get("/", incidentHandler.List)
			r.Get("/{id}", incidentHandler.Get)
			r.Get("/{id}/audit", incidentHandler.AuditLog)

			// Operator-only lifecycle operations
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth(cfg.JWTSecret))
				r.Get("/stats", incidentHandler.Stats)
				r.Post("/{id}/acknowledge", incidentHandler.Acknowledge)
				r.Post("/{id}/resolve", incidentHandler.Resolve)
				r.Post("/{id}/anchor", incidentHandler.Anchor)
				r.Post("/{id}/verify", incidentHandler.Verify)
				r.Post("/{id}/call", incidentHandler.Call)
				r.Post("/{id}/audit", incidentHandler.AppendAudit)
			})
		})
	})

	// Serve static files (frontend build)
	r.Handle("/*", http.FileServer(http.Dir("../dist")))

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		sugar.Fatalf("Forced shutdown: %v", err)
	}

	sugar.Info("Server stopped")
}
