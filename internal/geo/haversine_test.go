package geo

import (
	"math/rand"
	"testing"

	"fleet-routing-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKnownDistance(t *testing.T) {
	nyc := domain.Coordinate{Lat: 40.7128, Lng: -74.0060}
	la := domain.Coordinate{Lat: 34.0522, Lng: -118.2437}

	// ~3936 km great-circle distance.
	assert.InDelta(t, 3936, Haversine(nyc, la), 5)
	assert.Zero(t, Haversine(nyc, nyc))
}

func TestDistanceMatrixSymmetricNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 20; run++ {
		n := 1 + rng.Intn(12)
		coords := make([]domain.Coordinate, n)
		for i := range coords {
			coords[i] = domain.Coordinate{Lat: rng.Float64()*180 - 90, Lng: rng.Float64()*360 - 180}
		}

		m, err := DistanceMatrix(coords)
		require.NoError(t, err)
		require.Equal(t, n, m.Size())

		for i := 0; i < n; i++ {
			assert.Zero(t, m[i][i])
			for j := 0; j < n; j++ {
				assert.Equal(t, m[i][j], m[j][i])
				assert.GreaterOrEqual(t, m[i][j], 0.0)
			}
		}
	}
}

func TestDistanceMatrixRejectsMalformed(t *testing.T) {
	_, err := DistanceMatrix([]domain.Coordinate{{Lat: 10, Lng: 10}, {Lat: 95, Lng: 0}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBoundsOf(t *testing.T) {
	b := BoundsOf([]domain.Coordinate{{Lat: 1, Lng: 2}, {Lat: 3, Lng: -1}}, 0.05)
	assert.InDelta(t, 0.95, b.MinLat, 1e-9)
	assert.InDelta(t, 3.05, b.MaxLat, 1e-9)
	assert.InDelta(t, -1.05, b.MinLng, 1e-9)
	assert.InDelta(t, 2.05, b.MaxLng, 1e-9)
}
