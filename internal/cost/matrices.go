// Package cost derives travel-time and fuel matrices from distances.
package cost

import (
	"math"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/fuel"
	"fleet-routing-service/internal/geo"
)

// Options configures Build for one vehicle profile.
type Options struct {
	Vehicle domain.VehicleProfile
	// Traffic multiplies free-flow time per arc; nil means no traffic.
	Traffic [][]float64
	// RoadKm holds road-network distances used to infer the road type; nil
	// falls back to straight-line distance.
	RoadKm    [][]float64
	Predictor *fuel.Predictor
}

// Matrices holds per-arc travel time (hours), fuel (litres) and the traffic
// factor that was applied. Built per request, never cached.
type Matrices struct {
	Time    [][]float64
	Fuel    [][]float64
	Traffic [][]float64
}

// Build computes time and fuel for every ordered pair of dist.
func Build(dist geo.Matrix, opts Options) Matrices {
	n := dist.Size()
	speed := opts.Vehicle.CruiseSpeed
	if speed <= 0 {
		speed = domain.DefaultTypeSpecs().Spec(opts.Vehicle.Type).CruiseSpeedKmh
	}

	m := Matrices{
		Time:    square(n),
		Fuel:    square(n),
		Traffic: square(n),
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				m.Traffic[i][j] = 1
				continue
			}
			tf := 1.0
			if opts.Traffic != nil {
				tf = opts.Traffic[i][j]
			}
			m.Traffic[i][j] = tf
			m.Time[i][j] = dist[i][j] / speed * tf

			roadKm := dist[i][j]
			if opts.RoadKm != nil && opts.RoadKm[i][j] > 0 {
				roadKm = opts.RoadKm[i][j]
			}
			m.Fuel[i][j] = opts.Predictor.Predict(fuel.Input{
				VehicleType:     opts.Vehicle.Type,
				BaseConsumption: opts.Vehicle.BaseFuelConsumption,
				DistanceKm:      dist[i][j],
				LoadKg:          opts.Vehicle.LoadKg,
				VehicleWeightKg: opts.Vehicle.WeightKg,
				TrafficFactor:   tf,
				StopsPerKm:      1 / math.Max(1, dist[i][j]),
				RoadType:        fuel.RoadTypeFor(roadKm, dist[i][j]),
			})
		}
	}
	return m
}

// ArcCosts converts the chosen objective into comparable integer-magnitude
// arc costs: metres, seconds, millilitres, or an even blend of seconds and
// millilitres for the balanced objective.
func ArcCosts(obj domain.Objective, dist geo.Matrix, m Matrices) [][]float64 {
	n := dist.Size()
	out := square(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			seconds := math.Round(m.Time[i][j] * 3600)
			ml := math.Round(m.Fuel[i][j] * 1000)
			switch obj {
			case domain.ObjectiveTime:
				out[i][j] = seconds
			case domain.ObjectiveFuel:
				out[i][j] = ml
			case domain.ObjectiveBalanced:
				out[i][j] = 0.5*seconds + 0.5*ml
			default:
				out[i][j] = math.Round(dist[i][j] * 1000)
			}
		}
	}
	return out
}

// Seconds returns travel time in whole seconds per arc.
func Seconds(m Matrices) [][]int {
	out := make([][]int, len(m.Time))
	for i, row := range m.Time {
		out[i] = make([]int, len(row))
		for j, h := range row {
			out[i][j] = int(math.Round(h * 3600))
		}
	}
	return out
}

func square(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}
