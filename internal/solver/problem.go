// Package solver sequences stops onto vehicles under capacity, distance and
// time-window constraints.
package solver

import (
	"time"

	"fleet-routing-service/internal/geo"
)

// Outcome tags how a solve ended. Infeasibility is a normal result, not an error.
type Outcome int

const (
	Solved Outcome = iota
	Infeasible
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Solved:
		return "solved"
	case Infeasible:
		return "infeasible"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

const (
	DefaultTimeBudget      = 30 * time.Second
	DefaultStallIterations = 100
	// MaxWaitSeconds bounds idle time before a window opens. The first stop
	// is exempt: its wait delays the departure instead.
	MaxWaitSeconds = 3600
	HorizonSeconds = 24 * 3600
)

// Window is a hard visiting interval in seconds after the depot departure.
type Window struct {
	Start int
	End   int
}

// Vehicle carries the per-vehicle view of the problem. Time and Cost are
// indexed by node, node 0 being the depot.
type Vehicle struct {
	Capacity int
	// MaxDistanceKm of zero means unlimited.
	MaxDistanceKm float64
	Time          [][]int
	Cost          [][]float64
	// Allowed restricts the nodes this vehicle may visit; nil allows all.
	Allowed map[int]bool
}

// Problem is a single-depot CVRPTW instance. Node 0 is the depot.
type Problem struct {
	Dist     geo.Matrix
	Vehicles []Vehicle
	// Nodes to visit; nil means every non-depot node of Dist.
	Nodes []int
	// Demand per node; nil or non-positive entries count as 1.
	Demand []int
	// Windows per node; nil disables time windows altogether.
	Windows []*Window
}

type Options struct {
	TimeBudget      time.Duration
	StallIterations int
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TimeBudget <= 0 {
		o.TimeBudget = DefaultTimeBudget
	}
	if o.StallIterations <= 0 {
		o.StallIterations = DefaultStallIterations
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Result holds one node sequence per vehicle, depot excluded.
type Result struct {
	Outcome    Outcome
	Routes     [][]int
	Cost       float64
	Iterations int
}

func (p Problem) nodes() []int {
	if p.Nodes != nil {
		return p.Nodes
	}
	out := make([]int, 0, p.Dist.Size())
	for i := 1; i < p.Dist.Size(); i++ {
		out = append(out, i)
	}
	return out
}

func (p Problem) demand(node int) int {
	if node < len(p.Demand) && p.Demand[node] > 0 {
		return p.Demand[node]
	}
	return 1
}

func (p Problem) window(node int) *Window {
	if node < len(p.Windows) {
		return p.Windows[node]
	}
	return nil
}

// Feasible reports whether vehicle v can drive route (depot excluded).
func (p Problem) Feasible(v int, route []int) bool {
	veh := p.Vehicles[v]
	load := 0
	for _, n := range route {
		if veh.Allowed != nil && !veh.Allowed[n] {
			return false
		}
		load += p.demand(n)
	}
	if veh.Capacity > 0 && load > veh.Capacity {
		return false
	}
	if veh.MaxDistanceKm > 0 && routeSum(p.Dist, route) > veh.MaxDistanceKm {
		return false
	}
	return p.timeFeasible(veh.Time, route)
}

func (p Problem) timeFeasible(tm [][]int, route []int) bool {
	if len(route) == 0 {
		return true
	}
	start, t, prev := 0, 0, 0
	for k, n := range route {
		t += tm[prev][n]
		if w := p.window(n); w != nil {
			if t > w.End {
				return false
			}
			if t < w.Start {
				wait := w.Start - t
				if k == 0 {
					start += wait
				} else if wait > MaxWaitSeconds {
					return false
				}
				t = w.Start
			}
		}
		prev = n
	}
	t += tm[prev][0]
	return t-start <= HorizonSeconds
}

func routeSum(m [][]float64, route []int) float64 {
	if len(route) == 0 {
		return 0
	}
	sum, prev := 0.0, 0
	for _, n := range route {
		sum += m[prev][n]
		prev = n
	}
	return sum + m[prev][0]
}
