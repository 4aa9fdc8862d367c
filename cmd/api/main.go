package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"estately/api/internal/app"
	"estately/api/internal/config"
	"estately/api/internal/email"
	"estately/api/internal/jobs"
	"estately/api/internal/logging"
	"estately/api/internal/search"
	"estately/api/internal/session"
	"estately/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Fatalf("log file: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.PoolOptions())
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	if len(applied) > 0 {
		log.Printf("applied migrations: %s", strings.Join(applied, ", "))
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var service *app.Service
	var guard interface {
		Reserve(context.Context, string) (bool, error)
		Release(context.Context, string) error
	} = session.NewMemoryIdempotency(cfg.IdempotencyTTL)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("redis unavailable, using PostgreSQL sessions and in-process idempotency keys: %v", err)
			service = app.New(cfg, dataStore, searchService)
		} else {
			log.Printf("Using Redis for refresh tokens and idempotency keys")
			defer redisStore.Close()
			service = app.NewWithSessionStore(cfg, dataStore, redisStore, searchService)
			guard = session.NewRedisIdempotency(redisStore.Client(), cfg.IdempotencyTTL)
		}
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore, searchService)
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !cfg.SMTPConfigured() {
		log.Printf("email: SMTP not configured, notification emails disabled")
	}
	service = service.WithMailer(mailer).WithIdempotency(guard)

	if err := service.ReindexSearch(ctx); err != nil {
		log.Printf("WARNING: initial search reindex failed (will retry on schedule): %v", err)
	}

	scheduler := jobs.New(cfg.JobTimeout)
	for _, j := range []struct {
		name string
		spec string
		run  jobs.Func
	}{
		{"search-reindex", cfg.ReindexCron, service.ReindexSearch},
		{"visit-sweep", cfg.VisitSweepCron, service.CompletePastVisits},
		{"token-purge", cfg.TokenPurgeCron, service.PurgeExpiredTokens},
	} {
		if err := scheduler.Add(j.name, j.spec, j.run); err != nil {
			log.Fatalf("jobs: %v", err)
		}
	}
	scheduler.Start()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Estately API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	scheduler.Stop()
}
