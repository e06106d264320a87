package solver

import "slices"

// relocate moves one node to another position, possibly in another route.
func (s *search) relocate(routes [][]int) bool {
	for r := range routes {
		for i := range routes[r] {
			n := routes[r][i]
			src := removeAt(routes[r], i)
			if !s.p.Feasible(r, src) {
				continue
			}
			before := s.cost(r, routes[r], true)
			srcCost := s.cost(r, src, true)
			for t := range routes {
				if a := s.p.Vehicles[t].Allowed; a != nil && !a[n] {
					continue
				}
				target, targetBase := routes[t], s.cost(t, routes[t], true)
				if t == r {
					target, targetBase = src, srcCost
				}
				for j := 0; j <= len(target); j++ {
					if t == r && j == i {
						continue
					}
					cand := insertAt(target, j, n)
					var delta float64
					if t == r {
						delta = s.cost(r, cand, true) - before
					} else {
						delta = srcCost + s.cost(t, cand, true) - before - targetBase
					}
					if delta >= -eps || !s.p.Feasible(t, cand) {
						continue
					}
					if t == r {
						routes[r] = cand
					} else {
						routes[r], routes[t] = src, cand
					}
					return true
				}
			}
		}
	}
	return false
}

// exchange swaps two nodes between different routes.
func (s *search) exchange(routes [][]int) bool {
	for r := range routes {
		for t := r + 1; t < len(routes); t++ {
			base := s.cost(r, routes[r], true) + s.cost(t, routes[t], true)
			for i := range routes[r] {
				for j := range routes[t] {
					a, b := slices.Clone(routes[r]), slices.Clone(routes[t])
					a[i], b[j] = b[j], a[i]
					if s.cost(r, a, true)+s.cost(t, b, true)-base >= -eps {
						continue
					}
					if !s.p.Feasible(r, a) || !s.p.Feasible(t, b) {
						continue
					}
					routes[r], routes[t] = a, b
					return true
				}
			}
		}
	}
	return false
}

// twoOpt reverses a segment within a single route.
func (s *search) twoOpt(routes [][]int) bool {
	for r, route := range routes {
		base := s.cost(r, route, true)
		for i := 0; i < len(route)-1; i++ {
			for j := i + 1; j < len(route); j++ {
				cand := slices.Clone(route)
				slices.Reverse(cand[i : j+1])
				if s.cost(r, cand, true)-base >= -eps || !s.p.Feasible(r, cand) {
					continue
				}
				routes[r] = cand
				return true
			}
		}
	}
	return false
}
