package units

import (
	"fmt"
	"math"

	"github.com/san-kum/stepd/internal/dynamo"
	"github.com/san-kum/stepd/internal/integrators"
	"github.com/san-kum/stepd/internal/unit"
)

// system is an ODE with named constants and a conserved energy.
type system interface {
	dynamo.System
	dynamo.Hamiltonian
	dynamo.Configurable
}

// oscillator adapts a two-variable system to the unit contract. fields names
// the state components in order, input names the constant control.
type oscillator struct {
	fields    []string
	input     string
	initial   dynamo.State
	newSystem func() system
}

type setup struct {
	sys   system
	integ dynamo.Integrator
	dt    float64
	u     dynamo.Control
}

func (o *oscillator) Defaults() unit.Params {
	p := unit.Params{
		"dt":           0.01,
		"duration":     10.0,
		"integrator":   "rk4",
		"target_steps": 100,
		"emit_every":   0,
		o.input:        0.0,
	}
	for i, f := range o.fields {
		p[f] = o.initial[i]
	}
	for k, v := range o.newSystem().GetParams() {
		p[k] = v
	}
	return p
}

func (o *oscillator) configure(p unit.Params) (*setup, error) {
	sys := o.newSystem()
	for name := range sys.GetParams() {
		v, err := p.Float(name, math.NaN())
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) {
			continue
		}
		if err := sys.SetParam(name, v); err != nil {
			return nil, err
		}
	}

	name, err := p.String("integrator", "rk4")
	if err != nil {
		return nil, err
	}
	integ, err := integrators.New(name)
	if err != nil {
		return nil, err
	}

	dt, err := p.Float("dt", 0.01)
	if err != nil {
		return nil, err
	}
	if dt <= 0 {
		return nil, fmt.Errorf("dt must be positive, got %f", dt)
	}

	force, err := p.Float(o.input, 0)
	if err != nil {
		return nil, err
	}
	return &setup{sys: sys, integ: integ, dt: dt, u: dynamo.Control{force}}, nil
}

func (o *oscillator) initialState(p unit.Params) (dynamo.State, error) {
	x := make(dynamo.State, len(o.fields))
	for i, f := range o.fields {
		v, err := p.Float(f, o.initial[i])
		if err != nil {
			return nil, err
		}
		x[i] = v
	}
	return x, nil
}

func (o *oscillator) snapshot(s *setup, x dynamo.State, t int, time float64) unit.State {
	st := unit.State{"t": t, "time": time, "energy": s.sys.Energy(x)}
	for i, f := range o.fields {
		st[f] = x[i]
	}
	return st
}

// Step returns the initial condition at the first iteration and advances the
// previous state by one dt afterwards.
func (o *oscillator) Step(p unit.Params, prev unit.Previous, t int) (unit.State, bool, error) {
	s, err := o.configure(p)
	if err != nil {
		return nil, false, err
	}

	last, ok := prev.State()
	if !ok {
		x, err := o.initialState(p)
		if err != nil {
			return nil, false, err
		}
		return o.snapshot(s, x, t, 0), true, nil
	}

	x := make(dynamo.State, len(o.fields))
	for i, f := range o.fields {
		v, ok := unit.ToFloat(last[f])
		if !ok {
			return nil, false, fmt.Errorf("%w: previous state lacks %s", dynamo.ErrDimensionMismatch, f)
		}
		x[i] = v
	}
	time, _ := unit.ToFloat(last["time"])

	next := s.integ.Step(s.sys, x, s.u, time, s.dt)
	if !next.IsValid() {
		return nil, false, &dynamo.SimulationError{Step: t, Time: time, Wrapped: dynamo.ErrInvalidState}
	}
	return o.snapshot(s, next, t, time+s.dt), true, nil
}

// Run integrates for duration seconds and returns the final state with the
// full trajectory. Every emit_every steps the current state is emitted.
func (o *oscillator) Run(p unit.Params, emit unit.Emit) (unit.State, error) {
	s, err := o.configure(p)
	if err != nil {
		return nil, err
	}
	duration, err := p.Float("duration", 10)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %f", duration)
	}
	every, err := p.Int("emit_every", 0)
	if err != nil {
		return nil, err
	}
	x, err := o.initialState(p)
	if err != nil {
		return nil, err
	}

	steps := int(duration / s.dt)
	times := make(dynamo.State, 0, steps+1)
	trajectory := make([]dynamo.State, 0, steps+1)
	time := 0.0
	initialEnergy := s.sys.Energy(x)

	times = append(times, time)
	trajectory = append(trajectory, x.Clone())
	for i := 1; i <= steps; i++ {
		x = s.integ.Step(s.sys, x, s.u, time, s.dt)
		time += s.dt
		if !x.IsValid() {
			return nil, &dynamo.SimulationError{Step: i, Time: time, Wrapped: dynamo.ErrInvalidState}
		}
		times = append(times, time)
		trajectory = append(trajectory, x.Clone())
		if every > 0 && i%every == 0 {
			emit(o.snapshot(s, x, i, time))
		}
	}

	result := o.snapshot(s, x, steps, time)
	delete(result, "t")
	result["steps"] = steps
	result["times"] = times
	result["trajectory"] = trajectory
	if initialEnergy != 0 {
		result["energy_drift"] = math.Abs(s.sys.Energy(x)-initialEnergy) / math.Abs(initialEnergy)
	} else {
		result["energy_drift"] = 0.0
	}
	return result, nil
}
