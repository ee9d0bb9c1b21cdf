package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/robfig/cron/v3"

	"office-queue-backend/config"
	"office-queue-backend/internal/api"
	"office-queue-backend/internal/db"
	"office-queue-backend/internal/fusion"
	"office-queue-backend/internal/notification"
	"office-queue-backend/internal/orchestrator"
	"office-queue-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "officed ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	if err := db.SeedUsers(gormDB, cfg.Users); err != nil {
		logger.Fatalf("failed to seed users: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	// First boot: persist the factory tunables so admins edit real rows.
	if settings, err := appStore.Settings(ctx); err != nil {
		logger.Fatalf("failed to read settings: %v", err)
	} else if len(settings) == 0 {
		if err := appStore.PutSettings(ctx, orchestrator.Defaults().Settings(), time.Now()); err != nil {
			logger.Fatalf("failed to seed settings: %v", err)
		}
		logger.Println("seeded default settings")
	}

	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	pool.Start(ctx)
	logger.Printf("notification worker pool started with %d workers", cfg.WorkerPool.Size)

	orch := orchestrator.New(appStore, fusion.NewFuser(), pool, orchestrator.Defaults(), cfg.Orchestrator.Tick)
	if err := orch.Recover(ctx, time.Now()); err != nil {
		// The orchestrator stays up in SYSTEM_ERROR so an admin reset can
		// still reach it.
		logger.Printf("state recovery failed, starting in error state: %v", err)
	}
	go orch.Run(ctx)
	logger.Println("orchestrator running")

	// Nightly retention sweep for closed queue entries and old events.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Retention.Schedule, func() {
		cutoff := time.Now().AddDate(0, 0, -cfg.Retention.Days)
		err := appStore.Cleanup(context.Background(), store.RetentionCutoffs{
			ClosedEntriesBefore: cutoff,
			EventsBefore:        cutoff,
		})
		if err != nil {
			logger.Printf("retention cleanup failed: %v", err)
			return
		}
		logger.Printf("retention cleanup done, removed records older than %s", cutoff.Format("2006-01-02"))
	})
	if err != nil {
		logger.Fatalf("invalid retention schedule %q: %v", cfg.Retention.Schedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(cfg.Server, appStore, orch, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
