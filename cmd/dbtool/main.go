package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"fleet-routing-service/internal/adapters/repositories"
	"fleet-routing-service/internal/config"
	"fleet-routing-service/internal/platform/db"
	"fleet-routing-service/internal/platform/obs"

	"go.uber.org/zap"
)

// dbtool creates the schema and loads the seed file into Postgres.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := obs.NewLogger(cfg.AppEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	if err := initAndSeed(ctx, conn, cfg.SeedPath, log); err != nil {
		log.Fatal("dbtool failed", zap.Error(err))
	}
}

func initAndSeed(ctx context.Context, conn *sql.DB, seedPath string, log *zap.Logger) error {
	log.Info("initializing database schema")
	if err := repositories.InitSchema(ctx, conn); err != nil {
		return fmt.Errorf("schema initialization: %w", err)
	}
	log.Info("schema ready")

	data, err := repositories.LoadSeed(seedPath)
	if err != nil {
		return err
	}
	log.Info("seeding database",
		zap.String("path", seedPath),
		zap.Int("stops", len(data.Stops)),
		zap.Int("vehicles", len(data.Vehicles)),
		zap.Int("drivers", len(data.Drivers)))
	if err := repositories.SeedPostgres(ctx, conn, data); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}
	log.Info("seeding complete")
	return nil
}
