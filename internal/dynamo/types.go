package dynamo

import "math"

// State is a flat vector of state variables. It is emitted by units as-is and
// converted to a plain number list on the wire.
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

type Control []float64

type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Hamiltonian interface {
	Energy(x State) float64
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

// Configurable systems expose their physical constants by name so a unit can
// report them as defaults and apply overrides from job parameters.
type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}
