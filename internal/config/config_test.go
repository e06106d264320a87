package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleet-routing-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"PORT", "DATABASE_URL", "KAFKA_BROKERS", "SOLVER_TIME_BUDGET", "FUEL_PRICE_PER_LITER", "FLEET_PROFILES_PATH", "TRAFFIC_TTL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.SolverTimeBudget)
	assert.Equal(t, 300*time.Second, cfg.TrafficTTL)
	assert.Equal(t, 1.5, cfg.FuelPricePerLiter)
	assert.Equal(t, 0.10, cfg.FuelSavedRatio)
	assert.Equal(t, domain.DefaultTypeSpecs(), cfg.TypeSpecs)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SOLVER_TIME_BUDGET", "5")
	t.Setenv("TRAFFIC_TTL", "2m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("FUEL_SAVED_RATIO", "not-a-number")
	t.Setenv("FLEET_PROFILES_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.SolverTimeBudget)
	assert.Equal(t, 2*time.Minute, cfg.TrafficTTL)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 0.10, cfg.FuelSavedRatio)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ORS_API_KEY=from-dotenv\n"), 0o600))
	t.Setenv("ORS_API_KEY", "")
	os.Unsetenv("ORS_API_KEY")
	t.Setenv("FLEET_PROFILES_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.ORSAPIKey)
}

func TestLoadFleetProfilesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vehicle_types:
  van:
    cruise_speed_kmh: 38
    fuel_type: electric
  Truck:
    base_fuel_per_100km: 24
`), 0o600))

	specs, err := LoadFleetProfiles(path)
	require.NoError(t, err)

	defaults := domain.DefaultTypeSpecs()
	assert.Equal(t, 38.0, specs[domain.VehicleVan].CruiseSpeedKmh)
	assert.Equal(t, "electric", specs[domain.VehicleVan].FuelType)
	assert.Equal(t, defaults[domain.VehicleVan].WeightKg, specs[domain.VehicleVan].WeightKg)
	assert.Equal(t, 24.0, specs[domain.VehicleTruck].BaseFuelPer100Km)
	assert.Equal(t, defaults[domain.VehicleCar], specs[domain.VehicleCar])
}

func TestLoadFleetProfilesErrors(t *testing.T) {
	_, err := LoadFleetProfiles(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vehicle_types:\n  hovercraft:\n    weight_kg: 1\n"), 0o600))
	_, err = LoadFleetProfiles(path)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
