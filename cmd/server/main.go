package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleet-routing-service/internal/adapters/cache"
	"fleet-routing-service/internal/adapters/distance"
	"fleet-routing-service/internal/adapters/notify"
	"fleet-routing-service/internal/adapters/repositories"
	trafficadapter "fleet-routing-service/internal/adapters/traffic"
	"fleet-routing-service/internal/api"
	"fleet-routing-service/internal/api/handlers"
	"fleet-routing-service/internal/config"
	"fleet-routing-service/internal/fuel"
	"fleet-routing-service/internal/platform/db"
	"fleet-routing-service/internal/platform/obs"
	"fleet-routing-service/internal/ports"
	"fleet-routing-service/internal/services"
	"fleet-routing-service/internal/traffic"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// store is everything the services persist; both the Postgres and the
// in-memory store satisfy it.
type store interface {
	ports.StopRepository
	ports.VehicleRepository
	ports.DriverRepository
	ports.RouteRepository
	ports.AssignmentRepository
	ports.IncidentRepository
	ports.TransferRepository
	ports.FuelRecordRepository
}

// main is the application composition root.
// It wires concrete adapters (Postgres, Redis, ORS, Overpass, Kafka) behind
// ports and starts the HTTP server.
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

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.AppConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]handlers.Pinger{}

	var (
		sqlDB *sql.DB
		st    store
	)
	if cfg.DatabaseURL != "" {
		var err error
		sqlDB, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		if err := repositories.InitSchema(ctx, sqlDB); err != nil {
			return err
		}
		st = repositories.NewPostgresStore(sqlDB, log)
		checks["postgres"] = sqlDB.PingContext
		log.Info("using postgres store")
	} else {
		mem := repositories.NewMemoryStore()
		if cfg.SeedPath != "" {
			seed, err := repositories.LoadSeed(cfg.SeedPath)
			if err != nil {
				log.Warn("seed not loaded, starting empty", zap.String("path", cfg.SeedPath), zap.Error(err))
			} else {
				mem.Seed(seed)
			}
		}
		st = mem
		log.Info("DATABASE_URL not set, using in-memory store")
	}

	var shared ports.Cache
	if cfg.RedisAddr != "" {
		rdb, err := db.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		shared = cache.NewRedisCache(rdb, "fleet:")
		checks["redis"] = redisPing(rdb)
	} else {
		shared = cache.NewMemoryCache()
	}

	trafficSvc := traffic.NewService(shared,
		trafficadapter.NewOverpassProvider(cfg.OverpassURL, log),
		log, traffic.WithTTL(cfg.TrafficTTL))

	var notifier ports.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaNotifyTopic, log)
		defer kn.Close()
		notifier = kn
	} else {
		notifier = notify.NewLogNotifier(log)
	}

	optDeps := services.OptimizerDeps{
		Routes:      st,
		Vehicles:    st,
		Assignments: st,
		Traffic:     trafficSvc,
	}
	if cfg.ORSAPIKey != "" {
		ors, err := newORSClient(cfg, sqlDB, log)
		if err != nil {
			return err
		}
		optDeps.Geocoder = ors
		optDeps.Roads = ors
	} else {
		log.Info("ORS_API_KEY not set, using straight-line distances and no geocoding")
	}

	model := fuel.NewLinearModel()
	optDeps.Predictor = fuel.NewPredictor(model, log)
	tracker := services.NewFuelTracker(st, st, model, cfg.TypeSpecs, log)
	if err := tracker.Warm(ctx); err != nil {
		log.Warn("fuel model warm-up failed", zap.Error(err))
	}

	optimizer := services.NewOptimizer(optDeps, services.OptimizerConfig{
		TimeBudget:        cfg.SolverTimeBudget,
		StallIterations:   cfg.SolverStallIterations,
		FuelPricePerLiter: cfg.FuelPricePerLiter,
		FuelSavedRatio:    cfg.FuelSavedRatio,
		TypeSpecs:         cfg.TypeSpecs,
	}, log)
	incidents := services.NewIncidentManager(services.IncidentDeps{
		Drivers:     st,
		Vehicles:    st,
		Assignments: st,
		Incidents:   st,
		Transfers:   st,
		Notifier:    notifier,
	}, services.IncidentConfig{
		SearchRadiusKm:      cfg.SearchRadiusKm,
		AdminSearchRadiusKm: cfg.AdminSearchRadiusKm,
		HeartbeatWindow:     cfg.HeartbeatWindow,
	}, log)

	drivers := services.NewDriverService(services.DriverDeps{
		Drivers:     st,
		Assignments: st,
	}, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Optimizer: optimizer,
		Incidents: incidents,
		Drivers:   drivers,
		Fuel:      tracker,
		Stops:     st,
		Checks:    checks,
		Log:       log,
	})

	// Timeouts are tuned for cold-cache optimization (solver budget plus external API latency).
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newORSClient backs the ORS client with the persistent caches when a
// database is configured.
func newORSClient(cfg config.AppConfig, sqlDB *sql.DB, log *zap.Logger) (*distance.ORSClient, error) {
	var (
		distances distance.DistanceStore
		geocodes  distance.GeocodeStore
	)
	if sqlDB != nil {
		distances = cache.NewSQLDistanceCache(sqlDB, log)
		geocodes = cache.NewSQLGeocodeCache(sqlDB, log)
	}
	return distance.NewORSClient(distance.ORSConfig{APIKey: cfg.ORSAPIKey}, distances, geocodes, log)
}

func redisPing(rdb *redis.Client) handlers.Pinger {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}
