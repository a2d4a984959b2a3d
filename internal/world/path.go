package world

import (
	"container/heap"
	"context"
	"errors"
)

// ErrSearchBudget is returned when a search expands more nodes than allowed.
var ErrSearchBudget = errors.New("path search budget exhausted")

// PathOptions bounds and tunes a path search.
type PathOptions struct {
	// MaxExpanded caps the number of positions finalized by the search.
	// Zero means unlimited.
	MaxExpanded int

	// Dijkstra drops the distance heuristic. The distance heuristic can
	// overestimate once elevation multipliers apply, so only Dijkstra
	// guarantees a minimum-cost path.
	Dijkstra bool
}

// cancelCheckInterval is how many expansions happen between context checks.
const cancelCheckInterval = 256

// FindPath runs weighted A* from start to goal and returns the path including
// both endpoints. It returns false if either endpoint is out of bounds or the
// goal is unreachable.
func (g *Grid) FindPath(start, goal Position) ([]Position, bool) {
	path, err := g.FindPathContext(context.Background(), start, goal, PathOptions{})
	if err != nil || path == nil {
		return nil, false
	}
	return path, true
}

// FindPathContext is FindPath with cancellation and a node budget. A nil path
// with a nil error means no route exists. Endpoints are bounds-checked as
// given, then resolved onto the cell in their column and checked again.
func (g *Grid) FindPathContext(ctx context.Context, start, goal Position, opts PathOptions) ([]Position, error) {
	if !g.InBounds(start) || !g.InBounds(goal) {
		return nil, nil
	}
	start = g.Resolve(start)
	goal = g.Resolve(goal)
	if !g.InBounds(start) || !g.InBounds(goal) {
		return nil, nil
	}

	heuristic := func(p Position) int { return Distance(p, goal) }
	if opts.Dijkstra {
		heuristic = func(Position) int { return 0 }
	}

	open := &openSet{}
	cameFrom := make(map[Position]Position)
	gScore := map[Position]int{start: 0}
	closed := make(map[Position]bool)

	heap.Push(open, &pathNode{pos: start})
	expanded := 0

	for open.Len() > 0 {
		current := heap.Pop(open).(*pathNode)
		if current.pos == goal {
			return reconstructPath(cameFrom, current.pos), nil
		}
		if closed[current.pos] {
			continue
		}
		closed[current.pos] = true

		expanded++
		if opts.MaxExpanded > 0 && expanded > opts.MaxExpanded {
			return nil, ErrSearchBudget
		}
		if expanded%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		for _, neighbor := range g.Neighbors(current.pos) {
			if closed[neighbor] {
				continue
			}
			weight, ok := g.EdgeCost(current.pos, neighbor)
			if !ok {
				continue
			}

			tentative := gScore[current.pos] + weight
			if prev, seen := gScore[neighbor]; seen && tentative >= prev {
				continue
			}
			cameFrom[neighbor] = current.pos
			gScore[neighbor] = tentative
			heap.Push(open, &pathNode{
				pos:      neighbor,
				cost:     tentative,
				priority: tentative + heuristic(neighbor),
			})
		}
	}

	return nil, nil
}

// EdgeCost returns the weight of stepping from one cell to another: the
// destination's movement cost plus the pairwise elevation cost. It returns
// false when either position holds no cell or the step is impassable.
func (g *Grid) EdgeCost(from, to Position) (int, bool) {
	fc, ok := g.Cell(from)
	if !ok {
		return 0, false
	}
	tc, ok := g.Cell(to)
	if !ok {
		return 0, false
	}
	if tc.MovementCost >= Impassable {
		return 0, false
	}
	elev, ok := elevationCost(fc, tc)
	if !ok {
		return 0, false
	}
	return tc.MovementCost + elev, true
}

// PathCost sums the edge weights along path. It returns false if any step is
// not a valid edge.
func (g *Grid) PathCost(path []Position) (int, bool) {
	total := 0
	for i := 1; i < len(path); i++ {
		w, ok := g.EdgeCost(path[i-1], path[i])
		if !ok {
			return 0, false
		}
		total += w
	}
	return total, true
}

// elevationCost applies terrain-pair multipliers to the elevation change.
// Precedence: Wall/Lava (impassable), Water x2, Snow x2, Rough x1.5.
func elevationCost(from, to Cell) (int, bool) {
	diff := abs(to.Elevation - from.Elevation)
	base := diff
	if diff > 1 {
		base = diff * 2 // steep climb or descent
	}

	either := func(t Terrain) bool { return from.Terrain == t || to.Terrain == t }
	switch {
	case either(TerrainWall), either(TerrainLava):
		return 0, false
	case either(TerrainWater):
		return base * 2, true
	case either(TerrainSnow):
		return base * 2, true
	case either(TerrainRough):
		return base * 3 / 2, true
	default:
		return base, true
	}
}

func reconstructPath(cameFrom map[Position]Position, current Position) []Position {
	path := []Position{current}
	for {
		prev, ok := cameFrom[current]
		if !ok {
			break
		}
		path = append(path, prev)
		current = prev
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type pathNode struct {
	pos      Position
	cost     int
	priority int
	seq      int
}

// openSet is a min-heap on priority; equal priorities pop in insertion order.
type openSet struct {
	nodes []*pathNode
	next  int
}

func (s *openSet) Len() int { return len(s.nodes) }

func (s *openSet) Less(i, j int) bool {
	if s.nodes[i].priority != s.nodes[j].priority {
		return s.nodes[i].priority < s.nodes[j].priority
	}
	return s.nodes[i].seq < s.nodes[j].seq
}

func (s *openSet) Swap(i, j int) { s.nodes[i], s.nodes[j] = s.nodes[j], s.nodes[i] }

func (s *openSet) Push(x any) {
	n := x.(*pathNode)
	n.seq = s.next
	s.next++
	s.nodes = append(s.nodes, n)
}

func (s *openSet) Pop() any {
	old := s.nodes
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	s.nodes = old[:n-1]
	return item
}
