// Package cluster partitions delivery stops into vehicle-sized groups.
package cluster

import (
	"math"
	"math/rand"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/geo"
)

const (
	// Seed keeps clustering reproducible across runs.
	Seed = 42

	kmPerDegree = 111.0
	// Weight of the time-window dimension relative to one spatial axis.
	timeWeight = 0.8

	balanceThreshold     = 0.2
	defaultBalanceRounds = 100
)

// Cluster is a set of matrix indices (1-based; the depot is 0) routed by one vehicle.
type Cluster []int

// Stops partitions stops (depot excluded) into exactly k clusters. Stop i
// maps to matrix index i+1. With fewer stops than clusters the first n
// clusters hold one stop each and the rest are empty. Otherwise every
// cluster is non-empty.
func Stops(stops []domain.Stop, k int) []Cluster {
	if k <= 0 {
		return nil
	}
	n := len(stops)
	clusters := make([]Cluster, k)
	if n < k {
		for i := range stops {
			clusters[i] = Cluster{i + 1}
		}
		return clusters
	}

	labels := kmeans(features(stops), k, rand.New(rand.NewSource(Seed)))
	for i, l := range labels {
		clusters[l] = append(clusters[l], i+1)
	}
	fillEmpty(clusters)
	return clusters
}

// features scales lat/lng to kilometres and, when any stop has a time
// window, appends the window midpoint as a third dimension.
func features(stops []domain.Stop) [][]float64 {
	var meanLat float64
	for _, s := range stops {
		meanLat += s.Coordinate.Lat
	}
	meanLat /= float64(len(stops))
	lngScale := kmPerDegree * math.Cos(meanLat*math.Pi/180)

	points := make([][]float64, len(stops))
	for i, s := range stops {
		points[i] = []float64{s.Coordinate.Lat * kmPerDegree, s.Coordinate.Lng * lngScale}
	}

	mids, ok := windowMidpoints(stops)
	if !ok {
		return points
	}

	// Bring hours onto the spatial scale so one spread unit of time
	// weighs timeWeight of one spread unit of distance.
	spatial := (stddev(points, 0) + stddev(points, 1)) / 2
	temporal := stddevOf(mids)
	scale := timeWeight
	if temporal > 0 && spatial > 0 {
		scale = timeWeight * spatial / temporal
	}
	for i := range points {
		points[i] = append(points[i], mids[i]*scale)
	}
	return points
}

// windowMidpoints returns each stop's window midpoint in hours. Stops
// without a window get the mean midpoint so they stay neutral.
func windowMidpoints(stops []domain.Stop) ([]float64, bool) {
	mids := make([]float64, len(stops))
	var sum float64
	var count int
	for i, s := range stops {
		if s.TimeWindow == nil {
			mids[i] = math.NaN()
			continue
		}
		start := float64(s.TimeWindow.Start) / 3600
		end := float64(s.TimeWindow.End) / 3600
		if end < start {
			end += 24
		}
		mids[i] = (start + end) / 2
		sum += mids[i]
		count++
	}
	if count == 0 {
		return nil, false
	}
	mean := sum / float64(count)
	for i := range mids {
		if math.IsNaN(mids[i]) {
			mids[i] = mean
		}
	}
	return mids, true
}

// fillEmpty moves one stop from the currently-largest cluster into each empty one.
func fillEmpty(clusters []Cluster) {
	for i := range clusters {
		if len(clusters[i]) > 0 {
			continue
		}
		largest := 0
		for j := range clusters {
			if len(clusters[j]) > len(clusters[largest]) {
				largest = j
			}
		}
		if len(clusters[largest]) <= 1 {
			return
		}
		last := len(clusters[largest]) - 1
		clusters[i] = Cluster{clusters[largest][last]}
		clusters[largest] = clusters[largest][:last]
	}
}

// Balance evens out per-cluster round-trip distance by moving single stops
// from the longest cluster to the shortest one while that lowers the
// intra-cluster pairwise distance. The input is never modified; an already
// balanced input is returned as-is. maxRounds <= 0 uses the default cap.
func Balance(clusters []Cluster, dist geo.Matrix, maxRounds int) []Cluster {
	if maxRounds <= 0 {
		maxRounds = defaultBalanceRounds
	}
	if len(clusters) < 2 || balanced(roundTrips(clusters, dist)) {
		return clusters
	}

	out := make([]Cluster, len(clusters))
	for i, c := range clusters {
		out[i] = append(Cluster(nil), c...)
	}

	for round := 0; round < maxRounds; round++ {
		trips := roundTrips(out, dist)
		if balanced(trips) {
			break
		}
		src, dst := argmax(trips), argmin(trips)
		if src == dst || len(out[src]) <= 1 {
			break
		}

		best, bestGain := -1, 0.0
		for pos, p := range out[src] {
			var srcSum, dstSum float64
			for _, o := range out[src] {
				if o != p {
					srcSum += dist[p][o]
				}
			}
			for _, o := range out[dst] {
				dstSum += dist[p][o]
			}
			if gain := srcSum - dstSum; gain > bestGain {
				best, bestGain = pos, gain
			}
		}
		if best < 0 {
			break
		}

		moved := out[src][best]
		out[src] = append(out[src][:best:best], out[src][best+1:]...)
		out[dst] = append(out[dst], moved)
	}
	return out
}

// roundTrips returns depot -> stops in cluster order -> depot distances.
func roundTrips(clusters []Cluster, dist geo.Matrix) []float64 {
	trips := make([]float64, len(clusters))
	for i, c := range clusters {
		prev := 0
		for _, idx := range c {
			trips[i] += dist[prev][idx]
			prev = idx
		}
		trips[i] += dist[prev][0]
	}
	return trips
}

func balanced(trips []float64) bool {
	if len(trips) == 0 {
		return true
	}
	lo, hi, sum := trips[0], trips[0], 0.0
	for _, t := range trips {
		lo = math.Min(lo, t)
		hi = math.Max(hi, t)
		sum += t
	}
	return hi-lo < balanceThreshold*(sum/float64(len(trips)))
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func argmin(v []float64) int {
	best := 0
	for i := range v {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

func stddev(points [][]float64, dim int) float64 {
	vals := make([]float64, len(points))
	for i, p := range points {
		vals[i] = p[dim]
	}
	return stddevOf(vals)
}

func stddevOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(vals)))
}
