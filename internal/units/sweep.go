package units

import "github.com/san-kum/stepd/internal/unit"

// Sweep adds a and b. It is the smallest useful target for parameter sweeps.
type Sweep struct{}

func NewSweep() *Sweep { return &Sweep{} }

func (s *Sweep) Defaults() unit.Params {
	return unit.Params{"a": 0.0, "b": 0.0}
}

func (s *Sweep) Run(p unit.Params, _ unit.Emit) (unit.State, error) {
	a, err := p.Float("a", 0)
	if err != nil {
		return nil, err
	}
	b, err := p.Float("b", 0)
	if err != nil {
		return nil, err
	}
	return unit.State{"sum": a + b}, nil
}
