// Package traffic turns a traffic snapshot into travel-time multipliers.
package traffic

import (
	"math"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/geo"
)

const (
	MinFactor = 1.0
	MaxFactor = 3.0

	signalRadiusKm     = 0.1
	congestionRadiusKm = 0.5
	detourRatio        = 1.2

	signalWeight     = 0.2
	congestionWeight = 0.6
	timeOfDayWeight  = 0.2
)

// Factor returns the travel-time multiplier for the leg a -> b at the given
// instant, always within [MinFactor, MaxFactor].
func Factor(a, b domain.Coordinate, snap *domain.TrafficSnapshot, at time.Time) float64 {
	f := MinFactor + timeOfDayWeight*TimeOfDayFactor(at)
	if snap != nil {
		f += signalWeight*signalFactor(a, b, snap.TrafficSignals) +
			congestionWeight*congestionFactor(a, b, snap.CongestionAreas)
	}
	return clamp(f)
}

// FactorMatrix computes Factor for every ordered pair; the diagonal is MinFactor.
func FactorMatrix(coords []domain.Coordinate, snap *domain.TrafficSnapshot, at time.Time) [][]float64 {
	n := len(coords)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		for j := range m[i] {
			if i == j {
				m[i][j] = MinFactor
				continue
			}
			m[i][j] = Factor(coords[i], coords[j], snap, at)
		}
	}
	return m
}

func signalFactor(a, b domain.Coordinate, signals []domain.Coordinate) float64 {
	count := 0
	for _, s := range signals {
		if geo.Haversine(a, s) < signalRadiusKm || geo.Haversine(b, s) < signalRadiusKm {
			count++
		}
	}
	switch count {
	case 0:
		return 0
	case 1:
		return 0.2
	default:
		return math.Min(0.5, float64(count)*0.15)
	}
}

// congestionFactor is the highest level among areas with a point near
// either endpoint or roughly on the way between them.
func congestionFactor(a, b domain.Coordinate, areas []domain.CongestionArea) float64 {
	direct := geo.Haversine(a, b)
	level := 0.0
	for _, area := range areas {
		if area.Level <= level {
			continue
		}
		for _, p := range area.Coords {
			d1 := geo.Haversine(a, p)
			d2 := geo.Haversine(b, p)
			if d1 < congestionRadiusKm || d2 < congestionRadiusKm || d1+d2 < direct*detourRatio {
				level = area.Level
				break
			}
		}
	}
	return level
}

// TimeOfDayFactor models rush hours on weekdays and shopping hours on weekends.
func TimeOfDayFactor(at time.Time) float64 {
	h := at.Hour()
	switch at.Weekday() {
	case time.Saturday, time.Sunday:
		if h >= 10 && h <= 18 {
			return 0.3
		}
		return 0.1
	}
	switch {
	case (h >= 7 && h <= 9) || (h >= 16 && h <= 18):
		return 0.5
	case (h >= 10 && h <= 15) || (h >= 19 && h <= 21):
		return 0.2
	}
	return 0
}

// IsRushHour reports weekday 7-9 and 16-18.
func IsRushHour(at time.Time) bool {
	if at.Weekday() == time.Saturday || at.Weekday() == time.Sunday {
		return false
	}
	h := at.Hour()
	return (h >= 7 && h <= 9) || (h >= 16 && h <= 18)
}

func clamp(f float64) float64 {
	return math.Max(MinFactor, math.Min(MaxFactor, f))
}
