package units

import (
	"fmt"

	"github.com/san-kum/stepd/internal/dynamo"
	"github.com/san-kum/stepd/internal/unit"
)

// Logistic iterates x' = r*x*(1-x). It has no single-step form; every
// generation is emitted while it runs.
type Logistic struct{}

func NewLogistic() *Logistic { return &Logistic{} }

func (l *Logistic) Defaults() unit.Params {
	return unit.Params{"r": 3.7, "x0": 0.5, "generations": 50}
}

func (l *Logistic) Run(p unit.Params, emit unit.Emit) (unit.State, error) {
	r, err := p.Float("r", 3.7)
	if err != nil {
		return nil, err
	}
	x, err := p.Float("x0", 0.5)
	if err != nil {
		return nil, err
	}
	n, err := p.Int("generations", 50)
	if err != nil {
		return nil, err
	}
	if r < 0 || r > 4 {
		return nil, fmt.Errorf("%w: r must be in [0, 4], got %f", dynamo.ErrParameterBounds, r)
	}
	if x < 0 || x > 1 {
		return nil, fmt.Errorf("%w: x0 must be in [0, 1], got %f", dynamo.ErrParameterBounds, x)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: generations must be non-negative, got %d", dynamo.ErrParameterBounds, n)
	}

	series := make(dynamo.State, 0, n+1)
	series = append(series, x)
	sum := x
	for g := 1; g <= n; g++ {
		x = r * x * (1 - x)
		series = append(series, x)
		sum += x
		emit(unit.State{"generation": g, "x": x})
	}

	return unit.State{
		"x":           x,
		"generations": n,
		"mean":        sum / float64(len(series)),
		"series":      series,
	}, nil
}
