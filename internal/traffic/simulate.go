package traffic

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"fleet-routing-service/internal/domain"
)

var simulatedSpeeds = []int{30, 40, 50, 60, 70, 80}

// Simulate generates a plausible snapshot for bounds when no real data is
// available. Rush hours on weekdays produce more and heavier congestion.
func Simulate(bounds domain.Bounds, at time.Time, rng *rand.Rand) *domain.TrafficSnapshot {
	rush := IsRushHour(at)
	weekend := at.Weekday() == time.Saturday || at.Weekday() == time.Sunday

	var areas int
	switch {
	case rush:
		areas = between(rng, 5, 10)
	case !weekend:
		areas = between(rng, 2, 6)
	default:
		areas = between(rng, 1, 4)
	}

	snap := &domain.TrafficSnapshot{
		CongestionAreas: make([]domain.CongestionArea, 0, areas),
		RoadSpeeds:      make(map[string]int, 20),
		IsSimulated:     true,
		FetchedAt:       at,
	}

	for i := 0; i < areas; i++ {
		center := domain.Coordinate{
			Lat: uniform(rng, bounds.MinLat, bounds.MaxLat),
			Lng: uniform(rng, bounds.MinLng, bounds.MaxLng),
		}
		size := uniform(rng, 0.002, 0.01)
		points := between(rng, 3, 8)
		coords := make([]domain.Coordinate, points)
		for j := range coords {
			coords[j] = domain.Coordinate{
				Lat: center.Lat + uniform(rng, -size, size),
				Lng: center.Lng + uniform(rng, -size, size),
			}
		}

		level := uniform(rng, 0.2, 0.6)
		if rush {
			level = uniform(rng, 0.5, 0.9)
		}
		snap.CongestionAreas = append(snap.CongestionAreas, domain.CongestionArea{
			ID:     fmt.Sprintf("sim_%d", i),
			Coords: coords,
			Level:  math.Round(level*100) / 100,
		})
	}

	signals := between(rng, 5, 15)
	snap.TrafficSignals = make([]domain.Coordinate, signals)
	for i := range snap.TrafficSignals {
		snap.TrafficSignals[i] = domain.Coordinate{
			Lat: uniform(rng, bounds.MinLat, bounds.MaxLat),
			Lng: uniform(rng, bounds.MinLng, bounds.MaxLng),
		}
	}

	for i := 0; i < 20; i++ {
		snap.RoadSpeeds[fmt.Sprintf("sim_road_%d", i)] = simulatedSpeeds[rng.Intn(len(simulatedSpeeds))]
	}
	return snap
}

// between returns an int in [lo, hi].
func between(rng *rand.Rand, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
