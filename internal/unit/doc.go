// Package unit defines the capability contract of a computational unit and the
// registry that resolves unit identifiers to loaded handles.
//
// A unit always provides Defaults and Run. It may also implement [Stepper], in
// which case the worker drives it one iteration at a time and streams every
// intermediate state. The capability is resolved once, when the handle is
// loaded:
//
//	reg := unit.NewRegistry()
//	reg.MustRegister("pendulum", func() unit.Unit { return units.NewPendulum() })
//
//	h, err := reg.Load("pendulum.py")
//	if err != nil {
//	    // *unit.LoadError
//	}
//	if h.CanStep() {
//	    state, ok, err := h.Step(params, unit.Absent, 0)
//	}
//
// Handle methods recover panics raised inside a unit and return them as
// [*Error], so a faulty unit can never take the worker process down.
package unit
