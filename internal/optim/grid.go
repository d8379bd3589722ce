// Package optim expands parameter grids into sweep entries and ranks the
// results of a sweep.
package optim

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/stepd/internal/unit"
	"github.com/san-kum/stepd/internal/wire"
)

var ErrNoCandidate = errors.New("optim: no successful entry reports the metric")

// GridSearch is the cartesian product of per-parameter value lists, in the
// order the parameters were added.
type GridSearch struct {
	paramNames []string
	ranges     [][]any
}

func NewGridSearch() *GridSearch {
	return &GridSearch{}
}

// Add appends a parameter axis. Adding an existing name replaces its values.
func (g *GridSearch) Add(name string, values ...any) *GridSearch {
	for i, n := range g.paramNames {
		if n == name {
			g.ranges[i] = values
			return g
		}
	}
	g.paramNames = append(g.paramNames, name)
	g.ranges = append(g.ranges, values)
	return g
}

// Size is the number of points in the grid.
func (g *GridSearch) Size() int {
	if len(g.paramNames) == 0 {
		return 0
	}
	n := 1
	for _, r := range g.ranges {
		n *= len(r)
	}
	return n
}

// Points enumerates the grid with the last axis varying fastest. An empty
// grid yields an empty, non-nil list.
func (g *GridSearch) Points() []unit.Params {
	points := make([]unit.Params, 0, g.Size())
	if len(g.paramNames) == 0 {
		return points
	}
	g.searchRecursive(0, unit.Params{}, &points)
	return points
}

func (g *GridSearch) searchRecursive(depth int, current unit.Params, points *[]unit.Params) {
	if depth == len(g.paramNames) {
		*points = append(*points, current)
		return
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(unit.Params, len(current)+1)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		g.searchRecursive(depth+1, newParams, points)
	}
}

// Best returns the index and value of the sweep entry whose metric field is
// smallest, or largest when maximize is set. Error entries and entries
// without a numeric metric are skipped.
func Best(results []any, metric string, maximize bool) (int, float64, error) {
	bestIdx := -1
	best := math.Inf(1)
	if maximize {
		best = math.Inf(-1)
	}

	for i, r := range results {
		if wire.IsErrorResult(r) {
			continue
		}
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		val, ok := unit.ToFloat(m[metric])
		if !ok || math.IsNaN(val) {
			continue
		}
		if _, isBool := m[metric].(bool); isBool {
			continue
		}
		if (maximize && val > best) || (!maximize && val < best) || bestIdx < 0 {
			bestIdx, best = i, val
		}
	}

	if bestIdx < 0 {
		return -1, 0, fmt.Errorf("%w: %s", ErrNoCandidate, metric)
	}
	return bestIdx, best, nil
}
