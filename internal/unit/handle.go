package unit

import (
	"errors"
	"fmt"
)

// Handle is a loaded unit with its capabilities resolved.
type Handle struct {
	Name    string
	unit    Unit
	stepper Stepper
}

// NewHandle resolves the capabilities of u once.
func NewHandle(name string, u Unit) *Handle {
	h := &Handle{Name: name, unit: u}
	if s, ok := u.(Stepper); ok {
		h.stepper = s
	}
	return h
}

func (h *Handle) CanStep() bool { return h.stepper != nil }

func (h *Handle) Defaults() (params Params, err error) {
	defer h.recover("defaults", &err)
	params = h.unit.Defaults()
	if params == nil {
		params = Params{}
	}
	return params, nil
}

func (h *Handle) Run(params Params, emit Emit) (state State, err error) {
	defer h.recover("run", &err)
	if emit == nil {
		emit = Discard
	}
	state, err = h.unit.Run(params, emit)
	if err != nil {
		return nil, h.wrap("run", err)
	}
	return state, nil
}

func (h *Handle) Step(params Params, prev Previous, t int) (state State, ok bool, err error) {
	if h.stepper == nil {
		return nil, false, &Error{Unit: h.Name, Op: "step", Err: ErrNoStep}
	}
	defer h.recover("step", &err)
	state, ok, err = h.stepper.Step(params, prev, t)
	if err != nil {
		return nil, false, h.wrap("step", err)
	}
	return state, ok, nil
}

func (h *Handle) wrap(op string, err error) error {
	var ue *Error
	if errors.As(err, &ue) {
		return err
	}
	return &Error{Unit: h.Name, Op: op, Err: err}
}

func (h *Handle) recover(op string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("%v", r)
	}
	*err = &Error{Unit: h.Name, Op: op, Err: cause, Panicked: true}
}
