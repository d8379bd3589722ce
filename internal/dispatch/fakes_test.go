package dispatch_test

import (
	"errors"

	"github.com/san-kum/stepd/internal/unit"
)

type vector []float64

// adder returns {sum: a + b} and emits `emits` intermediate states.
type adder struct{}

func (adder) Defaults() unit.Params { return unit.Params{"a": 1.0, "b": 2.0} }

func (adder) Run(p unit.Params, emit unit.Emit) (unit.State, error) {
	a, err := p.Float("a", 0)
	if err != nil {
		return nil, err
	}
	b, err := p.Float("b", 0)
	if err != nil {
		return nil, err
	}
	if b < 0 {
		return nil, errors.New("b must be non-negative")
	}
	if b == 13 {
		panic("unlucky")
	}
	n, _ := p.Int("emits", 0)
	for i := 0; i < n; i++ {
		emit(unit.State{"i": i, "partial": vector{a, float64(i)}})
	}
	return unit.State{"sum": a + b}, nil
}

// counter steps until stop_at and records whether the previous state was absent.
type counter struct{ adder }

func (counter) Step(p unit.Params, prev unit.Previous, t int) (unit.State, bool, error) {
	if stop, ok := p["stop_at"]; ok && float64(t) >= stop.(float64) {
		return nil, false, nil
	}
	if fail, ok := p["fail_at"]; ok && float64(t) >= fail.(float64) {
		return nil, false, errors.New("diverged")
	}
	last := -1
	if st, ok := prev.State(); ok {
		last = st["t"].(int)
	}
	return unit.State{"t": t, "last": last, "absent": prev.IsAbsent(), "x": vector{float64(t)}}, true, nil
}

// mutator writes into every mapping it receives.
type mutator struct{}

func (mutator) Defaults() unit.Params { return unit.Params{"k": 1.0} }

func (mutator) Run(p unit.Params, _ unit.Emit) (unit.State, error) {
	p["k"] = "mutated"
	if nested, ok := p["nested"].(map[string]any); ok {
		nested["deep"] = "mutated"
	}
	return unit.State{"ok": true}, nil
}

// Step reports the value of k it was handed before overwriting it.
func (mutator) Step(p unit.Params, _ unit.Previous, t int) (unit.State, bool, error) {
	seen := p["k"]
	p["k"] = "mutated"
	return unit.State{"t": t, "seen": seen}, true, nil
}

// leaky keeps its emit callback so tests can call it after Run returned.
type leaky struct{ emit *unit.Emit }

func (l leaky) Defaults() unit.Params { return unit.Params{} }

func (l leaky) Run(_ unit.Params, emit unit.Emit) (unit.State, error) {
	*l.emit = emit
	return unit.State{}, nil
}

type brokenDefaults struct{ adder }

func (brokenDefaults) Defaults() unit.Params { panic("no defaults") }

type declines struct{ adder }

func (declines) Step(unit.Params, unit.Previous, int) (unit.State, bool, error) {
	return nil, false, nil
}

// rejects has defaults that its own Run refuses.
type rejects struct{ adder }

func (rejects) Defaults() unit.Params { return unit.Params{"a": 1.0, "b": -1.0} }

type explodes struct{ adder }

func (explodes) Step(unit.Params, unit.Previous, int) (unit.State, bool, error) {
	panic("step exploded")
}
