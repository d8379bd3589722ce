package units

import (
	"fmt"

	"github.com/san-kum/stepd/internal/dynamo"
)

const (
	DefaultMass      = 1.0
	DefaultStiffness = 10.0
	DefaultDamping   = 0.5
)

// SpringMassSystem is a single mass on a damped spring anchored at the origin.
type SpringMassSystem struct {
	Mass      float64
	Stiffness float64
	Damping   float64
}

func (s *SpringMassSystem) StateDim() int   { return 2 }
func (s *SpringMassSystem) ControlDim() int { return 1 }

func (s *SpringMassSystem) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	pos, vel := x[0], x[1]

	force := 0.0
	if len(u) > 0 {
		force = u[0]
	}
	total := -s.Stiffness*pos - s.Damping*vel + force

	return dynamo.State{vel, total / s.Mass}
}

func (s *SpringMassSystem) Energy(x dynamo.State) float64 {
	return 0.5*s.Mass*x[1]*x[1] + 0.5*s.Stiffness*x[0]*x[0]
}

func (s *SpringMassSystem) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":      s.Mass,
		"stiffness": s.Stiffness,
		"damping":   s.Damping,
	}
}

func (s *SpringMassSystem) SetParam(name string, value float64) error {
	switch name {
	case "mass":
		if value <= 0 {
			return fmt.Errorf("%w: mass must be positive, got %f", dynamo.ErrParameterBounds, value)
		}
		s.Mass = value
	case "stiffness":
		if value < 0 {
			return fmt.Errorf("%w: stiffness must be non-negative, got %f", dynamo.ErrParameterBounds, value)
		}
		s.Stiffness = value
	case "damping":
		s.Damping = value
	default:
		return fmt.Errorf("%w: %s", dynamo.ErrUnknownParam, name)
	}
	return nil
}

// SpringMass streams position and velocity of a SpringMassSystem.
type SpringMass struct {
	oscillator
}

func NewSpringMass() *SpringMass {
	return &SpringMass{oscillator{
		fields:  []string{"x", "v"},
		input:   "force",
		initial: dynamo.State{1, 0},
		newSystem: func() system {
			return &SpringMassSystem{Mass: DefaultMass, Stiffness: DefaultStiffness, Damping: DefaultDamping}
		},
	}}
}
