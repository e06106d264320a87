// Package geo computes great-circle distances between coordinates.
package geo

import (
	"fmt"
	"math"

	"fleet-routing-service/internal/domain"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance between a and b in kilometers.
func Haversine(a, b domain.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Matrix is a square distance matrix in kilometers; index 0 is the depot.
type Matrix [][]float64

// NewMatrix allocates an n x n zero matrix.
func NewMatrix(n int) Matrix {
	m := make(Matrix, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

func (m Matrix) Size() int { return len(m) }

// DistanceMatrix computes the symmetric haversine matrix for coords.
// Any out-of-range coordinate rejects the whole input.
func DistanceMatrix(coords []domain.Coordinate) (Matrix, error) {
	for i, c := range coords {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("distance matrix: coordinate #%d: %w", i, err)
		}
	}

	m := NewMatrix(len(coords))
	for i := 0; i < len(coords); i++ {
		for j := i + 1; j < len(coords); j++ {
			d := Haversine(coords[i], coords[j])
			m[i][j] = d
			m[j][i] = d
		}
	}
	return m, nil
}

// BoundsOf returns the bounding box of coords padded by pad degrees on every side.
func BoundsOf(coords []domain.Coordinate, pad float64) domain.Bounds {
	if len(coords) == 0 {
		return domain.Bounds{}
	}
	b := domain.Bounds{
		MinLat: coords[0].Lat, MaxLat: coords[0].Lat,
		MinLng: coords[0].Lng, MaxLng: coords[0].Lng,
	}
	for _, c := range coords[1:] {
		b.MinLat = math.Min(b.MinLat, c.Lat)
		b.MaxLat = math.Max(b.MaxLat, c.Lat)
		b.MinLng = math.Min(b.MinLng, c.Lng)
		b.MaxLng = math.Max(b.MaxLng, c.Lng)
	}
	b.MinLat -= pad
	b.MinLng -= pad
	b.MaxLat += pad
	b.MaxLng += pad
	return b
}
