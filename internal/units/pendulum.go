package units

import (
	"fmt"
	"math"

	"github.com/san-kum/stepd/internal/dynamo"
)

// PendulumSystem is a damped pendulum driven by a constant torque.
type PendulumSystem struct {
	Mass    float64
	Length  float64
	Damping float64
	Gravity float64
}

func (p *PendulumSystem) StateDim() int   { return 2 }
func (p *PendulumSystem) ControlDim() int { return 1 }

func (p *PendulumSystem) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	theta, omega := x[0], x[1]

	torque := 0.0
	if len(u) > 0 {
		torque = u[0]
	}
	alpha := (-p.Damping*omega - p.Mass*p.Gravity*p.Length*math.Sin(theta) + torque) / (p.Mass * p.Length * p.Length)

	return dynamo.State{omega, alpha}
}

func (p *PendulumSystem) Energy(x dynamo.State) float64 {
	v := p.Length * x[1]
	ke := 0.5 * p.Mass * v * v
	pe := p.Mass * p.Gravity * p.Length * (1.0 - math.Cos(x[0]))
	return ke + pe
}

func (p *PendulumSystem) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":    p.Mass,
		"length":  p.Length,
		"damping": p.Damping,
		"gravity": p.Gravity,
	}
}

func (p *PendulumSystem) SetParam(name string, value float64) error {
	switch name {
	case "mass", "length":
		if value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %f", dynamo.ErrParameterBounds, name, value)
		}
		if name == "mass" {
			p.Mass = value
		} else {
			p.Length = value
		}
	case "damping":
		p.Damping = value
	case "gravity":
		p.Gravity = value
	default:
		return fmt.Errorf("%w: %s", dynamo.ErrUnknownParam, name)
	}
	return nil
}

// Pendulum streams theta and omega of a PendulumSystem.
type Pendulum struct {
	oscillator
}

func NewPendulum() *Pendulum {
	return &Pendulum{oscillator{
		fields:  []string{"theta", "omega"},
		input:   "torque",
		initial: dynamo.State{0.5, 0},
		newSystem: func() system {
			return &PendulumSystem{Mass: 1.0, Length: 1.0, Damping: 0.1, Gravity: 9.81}
		},
	}}
}
