package main

import (
	"context"
	"flag"
	"log"

	"estately/api/internal/config"
	"estately/api/internal/seed"
	"estately/api/internal/store"
)

func main() {
	path := flag.String("file", "./db/seed/sample.yaml", "YAML fixture of users and properties")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.PoolOptions())
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	fixture, err := seed.Load(*path)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	result, err := seed.Apply(ctx, store.NewPostgresStore(db), fixture, 0)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("seed: users created=%d skipped=%d, properties created=%d skipped=%d",
		result.UsersCreated, result.UsersSkipped, result.PropertiesCreated, result.PropertiesSkipped)
}
