// Package fallback builds deterministic routes that never fail, used when
// the solver cannot produce a feasible plan.
package fallback

import (
	"fleet-routing-service/internal/geo"
)

const (
	// FlatLitersPer100Km approximates fuel when no fuel matrix is available.
	FlatLitersPer100Km = 10.0
	// DefaultSpeedKmh approximates time when no time matrix is available.
	DefaultSpeedKmh = 40.0
)

// ManualRoutes returns one node sequence per vehicle (depot excluded).
// With clusters each vehicle orders its own cluster by nearest neighbour;
// without, the node list is sliced evenly by position.
func ManualRoutes(dist geo.Matrix, nodes []int, clusters [][]int, k int) [][]int {
	routes := make([][]int, k)
	for v := 0; v < k; v++ {
		if clusters != nil {
			if v < len(clusters) && len(clusters[v]) > 0 {
				routes[v] = NearestNeighbor(dist, clusters[v])
			}
			continue
		}
		routes[v] = append([]int(nil), SliceStops(nodes, k, v)...)
	}
	return routes
}

// SliceStops returns vehicle v's share nodes[v*n/k : (v+1)*n/k].
func SliceStops(nodes []int, k, v int) []int {
	if k <= 0 || v < 0 || v >= k {
		return nil
	}
	n := len(nodes)
	return nodes[v*n/k : (v+1)*n/k]
}

// NearestNeighbor orders nodes greedily starting from the depot (node 0).
// Ties go to the lowest node index.
func NearestNeighbor(dist geo.Matrix, nodes []int) []int {
	remaining := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		remaining[n] = true
	}

	order := make([]int, 0, len(nodes))
	cur := 0
	for len(remaining) > 0 {
		next := -1
		for n := range remaining {
			if next == -1 || dist[cur][n] < dist[cur][next] ||
				(dist[cur][n] == dist[cur][next] && n < next) {
				next = n
			}
		}
		order = append(order, next)
		delete(remaining, next)
		cur = next
	}
	return order
}

// Totals accumulates a route's depot-bracketed legs.
type Totals struct {
	DistanceKm float64
	TimeHours  float64
	FuelLiters float64
}

// Accumulate sums consecutive legs of route. A nil time matrix falls back to
// DefaultSpeedKmh and a nil fuel matrix to FlatLitersPer100Km.
func Accumulate(route []int, dist geo.Matrix, timeH, fuelL [][]float64) Totals {
	var t Totals
	if len(route) == 0 {
		return t
	}
	prev := 0
	for _, n := range append(append([]int(nil), route...), 0) {
		d := dist[prev][n]
		t.DistanceKm += d
		if timeH != nil {
			t.TimeHours += timeH[prev][n]
		} else {
			t.TimeHours += d / DefaultSpeedKmh
		}
		if fuelL != nil {
			t.FuelLiters += fuelL[prev][n]
		} else {
			t.FuelLiters += d * FlatLitersPer100Km / 100
		}
		prev = n
	}
	return t
}
