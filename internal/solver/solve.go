package solver

import (
	"context"
	"math"
	"slices"
	"time"
)

const eps = 1e-9

// Solve builds routes by cheapest insertion and improves them with guided
// local search until the time budget, ctx cancellation or the stall limit.
// It returns TimedOut only when no complete assignment existed in time.
func Solve(ctx context.Context, p Problem, opts Options) Result {
	opts = opts.withDefaults()
	s := &search{
		p:        p,
		opts:     opts,
		deadline: opts.Now().Add(opts.TimeBudget),
		penalty:  make(map[arc]int),
	}

	k := len(p.Vehicles)
	nodes := p.nodes()
	if k == 0 {
		if len(nodes) == 0 {
			return Result{Outcome: Solved}
		}
		return Result{Outcome: Infeasible}
	}
	if len(nodes) == 0 {
		return Result{Outcome: Solved, Routes: make([][]int, k)}
	}

	routes, outcome := s.construct(ctx, nodes)
	if outcome != Solved {
		return Result{Outcome: outcome}
	}

	s.improve(ctx, routes)
	best := cloneRoutes(routes)
	bestCost := s.total(routes, false)
	if arcs := arcCount(routes); arcs > 0 {
		s.lambda = 0.3 * bestCost / float64(arcs)
	}

	iter, stall := 0, 0
	for s.lambda > 0 && stall < opts.StallIterations && !s.expired(ctx) {
		iter++
		s.penalize(routes)
		s.improve(ctx, routes)
		c := s.total(routes, false)
		if c < bestCost-eps {
			best, bestCost, stall = cloneRoutes(routes), c, 0
		} else {
			stall++
		}
	}
	return Result{Outcome: Solved, Routes: best, Cost: bestCost, Iterations: iter}
}

type arc [2]int

type search struct {
	p        Problem
	opts     Options
	deadline time.Time
	lambda   float64
	penalty  map[arc]int
}

func (s *search) expired(ctx context.Context) bool {
	return ctx.Err() != nil || !s.opts.Now().Before(s.deadline)
}

// cost is the route's objective cost, augmented with arc penalties when
// guided is set.
func (s *search) cost(v int, route []int, guided bool) float64 {
	c := routeSum(s.p.Vehicles[v].Cost, route)
	if !guided || s.lambda == 0 || len(route) == 0 {
		return c
	}
	pen, prev := 0, 0
	for _, n := range route {
		pen += s.penalty[arc{prev, n}]
		prev = n
	}
	pen += s.penalty[arc{prev, 0}]
	return c + s.lambda*float64(pen)
}

func (s *search) total(routes [][]int, guided bool) float64 {
	sum := 0.0
	for v, r := range routes {
		sum += s.cost(v, r, guided)
	}
	return sum
}

func (s *search) construct(ctx context.Context, nodes []int) ([][]int, Outcome) {
	routes := make([][]int, len(s.p.Vehicles))
	pending := slices.Clone(nodes)
	slices.Sort(pending)

	for len(pending) > 0 {
		if s.expired(ctx) {
			return nil, TimedOut
		}
		bestIdx, bestV, bestPos := -1, -1, -1
		bestDelta := math.Inf(1)
		for idx, n := range pending {
			for v := range routes {
				if a := s.p.Vehicles[v].Allowed; a != nil && !a[n] {
					continue
				}
				base := s.cost(v, routes[v], false)
				for pos := 0; pos <= len(routes[v]); pos++ {
					cand := insertAt(routes[v], pos, n)
					if !s.p.Feasible(v, cand) {
						continue
					}
					if d := s.cost(v, cand, false) - base; d < bestDelta-eps {
						bestIdx, bestV, bestPos, bestDelta = idx, v, pos, d
					}
				}
			}
		}
		if bestIdx < 0 {
			return nil, Infeasible
		}
		routes[bestV] = insertAt(routes[bestV], bestPos, pending[bestIdx])
		pending = slices.Delete(pending, bestIdx, bestIdx+1)
	}
	return routes, Solved
}

// improve applies first-improvement moves under the guided cost until no
// move helps or time runs out. Routes stay feasible throughout.
func (s *search) improve(ctx context.Context, routes [][]int) {
	for !s.expired(ctx) {
		if !s.relocate(routes) && !s.exchange(routes) && !s.twoOpt(routes) {
			return
		}
	}
}

// penalize bumps the penalty of the arcs with maximal utility cost/(1+p).
func (s *search) penalize(routes [][]int) {
	type scored struct {
		a arc
		u float64
	}
	var used []scored
	maxU := math.Inf(-1)
	for v, r := range routes {
		if len(r) == 0 {
			continue
		}
		c := s.p.Vehicles[v].Cost
		prev := 0
		for _, n := range append(slices.Clone(r), 0) {
			a := arc{prev, n}
			u := c[prev][n] / float64(1+s.penalty[a])
			used = append(used, scored{a, u})
			maxU = math.Max(maxU, u)
			prev = n
		}
	}
	for _, sc := range used {
		if sc.u >= maxU-eps {
			s.penalty[sc.a]++
		}
	}
}

func arcCount(routes [][]int) int {
	n := 0
	for _, r := range routes {
		if len(r) > 0 {
			n += len(r) + 1
		}
	}
	return n
}

func cloneRoutes(routes [][]int) [][]int {
	out := make([][]int, len(routes))
	for i, r := range routes {
		out[i] = slices.Clone(r)
	}
	return out
}

func insertAt(route []int, pos, n int) []int {
	out := make([]int, 0, len(route)+1)
	out = append(out, route[:pos]...)
	out = append(out, n)
	return append(out, route[pos:]...)
}

func removeAt(route []int, pos int) []int {
	out := make([]int, 0, len(route)-1)
	out = append(out, route[:pos]...)
	return append(out, route[pos+1:]...)
}
