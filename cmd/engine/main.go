package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/studyforge/studyforge/internal/engine/admission"
	"github.com/studyforge/studyforge/internal/engine/cache"
	"github.com/studyforge/studyforge/internal/engine/handlers"
	"github.com/studyforge/studyforge/internal/engine/ledger"
	"github.com/studyforge/studyforge/internal/engine/orchestrator"
	"github.com/studyforge/studyforge/internal/engine/progress"
	"github.com/studyforge/studyforge/internal/engine/providers"
	"github.com/studyforge/studyforge/internal/metrics"
	"github.com/studyforge/studyforge/internal/shared/blob"
	"github.com/studyforge/studyforge/internal/shared/config"
	"github.com/studyforge/studyforge/internal/shared/database"
	"github.com/studyforge/studyforge/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting StudyForge engine on port %s (env: %s)", cfg.Port, cfg.Env)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Init(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Println("✓ Connected to PostgreSQL")

	// Initialize Redis (progress push channel)
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Connected to Redis")

	// Initialize blob store
	blobs, err := blob.New(cfg.BlobDir, cfg.BlobSigningSecret)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}
	log.Println("✓ Initialized blob store")

	// Initialize provider
	provider, err := providers.FromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize provider: %v", err)
	}
	log.Printf("✓ Initialized %s provider", provider.Name())

	// Metrics
	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	// Core collaborators
	contentCache := cache.New(cfg.CacheMaxEntries, cfg.CacheWriteTTL, cfg.CacheAccessTTL)
	adm := admission.New(map[admission.Action]admission.Ceilings{
		admission.ActionCreate: {
			PerMinute: cfg.CreatesPerMinute,
			PerHour:   cfg.CreatesPerHour,
			PerDay:    cfg.CreatesPerDay,
		},
		admission.ActionPreview: {
			PerMinute: cfg.PreviewsPerMinute,
			PerHour:   cfg.PreviewsPerHour,
			PerDay:    cfg.PreviewsPerDay,
		},
	})
	defer adm.Close()
	tracker := progress.New(redisClient)
	usage := ledger.New(cfg.InputCostPerMillion, cfg.OutputCostPerMillion)

	engine := orchestrator.New(db, provider, contentCache, adm, tracker, usage, orchestrator.Options{
		Workers:    cfg.WorkerCount,
		Backlog:    cfg.WorkerBacklog,
		MaxRetries: cfg.DefaultMaxRetries,
		StaleAge:   cfg.SweepStaleAge,
	})
	defer engine.Shutdown()
	log.Println("✓ Initialized generation engine")

	// Background sweep of stale Pending requests
	go engine.RunSweeper(ctx, cfg.SweepInterval)

	// Initialize handlers
	generationHandler := handlers.NewGenerationHandler(engine, tracker)
	contentHandler := handlers.NewContentHandler(db, blobs, cfg.BlobURLTTL)
	templateHandler := handlers.NewTemplateHandler(db)
	usageHandler := handlers.NewUsageHandler(usage)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(handlers.CORSMiddleware)

	// Health check (no identity required)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := map[string]string{"status": "healthy"}
		checkCtx, checkCancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer checkCancel()
		if err := db.Ping(checkCtx); err != nil {
			status["database"] = "unhealthy"
			status["status"] = "degraded"
		} else {
			status["database"] = "healthy"
		}
		if err := redisClient.Ping(checkCtx); err != nil {
			status["redis"] = "unhealthy"
			status["status"] = "degraded"
		} else {
			status["redis"] = "healthy"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	r.Method("GET", "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// API routes (identity required)
	r.Route("/v1", func(r chi.Router) {
		r.Use(handlers.IdentityMiddleware)

		r.Post("/generations", generationHandler.HandleCreate)
		r.Get("/generations", generationHandler.HandleList)
		r.Get("/generations/{id}", generationHandler.HandleGet)
		r.Post("/generations/{id}/start", generationHandler.HandleStart)
		r.Post("/generations/{id}/cancel", generationHandler.HandleCancel)
		r.Post("/generations/{id}/retry", generationHandler.HandleRetry)
		r.Get("/generations/{id}/events", generationHandler.HandleEvents)
		r.Get("/generations/{id}/ws", generationHandler.HandleWS)

		r.Post("/preview", generationHandler.HandlePreview)

		r.Get("/contents", contentHandler.HandleList)
		r.Get("/contents/{id}", contentHandler.HandleGet)
		r.Get("/contents/{id}/download", contentHandler.HandleDownload)
		r.Get("/blobs/*", contentHandler.HandleBlob)

		r.Post("/templates", templateHandler.HandleCreate)
		r.Get("/templates", templateHandler.HandleList)
		r.Get("/templates/{id}", templateHandler.HandleGet)

		r.Get("/usage", usageHandler.HandleReport)

		r.Post("/admin/sweep", generationHandler.HandleSweep)
		r.Post("/admin/usage/reset", usageHandler.HandleReset)
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("   POST /v1/generations               - Create a generation request")
		log.Println("   POST /v1/generations/{id}/start    - Start generation")
		log.Println("   GET  /v1/generations/{id}/events   - Progress stream (SSE)")
		log.Println("   GET  /v1/usage                     - Usage and cost report")
		log.Println("   GET  /health                       - Health check")
		log.Println("")
		log.Println("Ready to accept requests!")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
