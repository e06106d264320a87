package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"fleet-routing-service/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	// Server
	AppEnv string
	Port   string

	// Storage; an empty DatabaseURL runs on the in-memory store.
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SeedPath      string

	// Notifications; no brokers means log-only.
	KafkaBrokers     []string
	KafkaNotifyTopic string

	// External providers
	ORSAPIKey   string
	OverpassURL string
	TrafficTTL  time.Duration

	// Optimization
	SolverTimeBudget      time.Duration
	SolverStallIterations int
	FuelPricePerLiter     float64
	FuelSavedRatio        float64
	FleetProfilesPath     string
	TypeSpecs             domain.TypeSpecs

	// Incidents
	SearchRadiusKm      float64
	AdminSearchRadiusKm float64
	HeartbeatWindow     time.Duration
}

// Load reads .env (when present) and the environment into AppConfig.
// Vehicle type defaults are merged with FLEET_PROFILES_PATH when set.
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := AppConfig{
		AppEnv: Get("APP_ENV", "development"),
		Port:   Get("PORT", "8080"),

		DatabaseURL:   Get("DATABASE_URL", ""),
		RedisAddr:     Get("REDIS_ADDR", ""),
		RedisPassword: Get("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		SeedPath:      Get("SEED_PATH", "data/seeds/fleet.json"),

		KafkaBrokers:     getSlice("KAFKA_BROKERS", nil),
		KafkaNotifyTopic: Get("KAFKA_NOTIFY_TOPIC", "fleet.notifications"),

		ORSAPIKey:   strings.TrimSpace(Get("ORS_API_KEY", "")),
		OverpassURL: Get("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		TrafficTTL:  getDuration("TRAFFIC_TTL", 300*time.Second),

		SolverTimeBudget:      getDuration("SOLVER_TIME_BUDGET", 30*time.Second),
		SolverStallIterations: getInt("SOLVER_STALL_ITERATIONS", 100),
		FuelPricePerLiter:     getFloat("FUEL_PRICE_PER_LITER", 1.5),
		FuelSavedRatio:        getFloat("FUEL_SAVED_RATIO", 0.10),
		FleetProfilesPath:     Get("FLEET_PROFILES_PATH", ""),

		SearchRadiusKm:      getFloat("INCIDENT_SEARCH_RADIUS_KM", 20),
		AdminSearchRadiusKm: getFloat("INCIDENT_ADMIN_SEARCH_RADIUS_KM", 50),
		HeartbeatWindow:     getDuration("DRIVER_HEARTBEAT_WINDOW", 30*time.Minute),
	}

	specs, err := LoadFleetProfiles(cfg.FleetProfilesPath)
	if err != nil {
		return AppConfig{}, err
	}
	cfg.TypeSpecs = specs
	return cfg, nil
}

func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// fleetFile is the YAML layout of FLEET_PROFILES_PATH:
//
//	vehicle_types:
//	  van:
//	    cruise_speed_kmh: 38
//	    base_fuel_per_100km: 9.5
type fleetFile struct {
	VehicleTypes map[string]domain.TypeSpec `yaml:"vehicle_types"`
}

// LoadFleetProfiles returns the built-in vehicle type defaults overridden
// field by field from the YAML file at path. An empty path returns the defaults.
func LoadFleetProfiles(path string) (domain.TypeSpecs, error) {
	specs := domain.DefaultTypeSpecs()
	if path == "" {
		return specs, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet profiles %q: %w", path, err)
	}
	var file fleetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse fleet profiles %q: %w", path, err)
	}

	for name, o := range file.VehicleTypes {
		t, err := domain.ParseVehicleType(name)
		if err != nil {
			return nil, fmt.Errorf("fleet profiles %q: %w", path, err)
		}
		specs[t] = merge(specs.Spec(t), o)
	}
	return specs, nil
}

func merge(base, o domain.TypeSpec) domain.TypeSpec {
	if o.CruiseSpeedKmh > 0 {
		base.CruiseSpeedKmh = o.CruiseSpeedKmh
	}
	if o.BaseFuelPer100Km > 0 {
		base.BaseFuelPer100Km = o.BaseFuelPer100Km
	}
	if o.WeightKg > 0 {
		base.WeightKg = o.WeightKg
	}
	if o.MaxLoadKg > 0 {
		base.MaxLoadKg = o.MaxLoadKg
	}
	if o.VolumeM3 > 0 {
		base.VolumeM3 = o.VolumeM3
	}
	if o.FuelType != "" {
		base.FuelType = o.FuelType
	}
	if o.EfficiencyRatingPct > 0 {
		base.EfficiencyRatingPct = o.EfficiencyRatingPct
	}
	return base
}

// --- Helper functions ---

// Get returns the environment value for key, or fallback when unset or empty.
func Get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

// getDuration accepts Go durations ("45s") or plain seconds ("45").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
