package unit

// Params is a parameter mapping: fixed, variable, effective or defaults.
type Params map[string]any

// State is a mapping produced by Run or Step.
type State map[string]any

// Emit receives intermediate states from Run.
type Emit func(State)

// Unit is the required capability set of a computational unit.
type Unit interface {
	Defaults() Params
	Run(params Params, emit Emit) (State, error)
}

// Stepper is the optional iterative capability. Returning ok == false ends the
// iteration; the returned state is ignored in that case. Each call receives its
// own copy of the parameters, so changes made by one call are not seen by the
// next.
type Stepper interface {
	Step(params Params, prev Previous, t int) (state State, ok bool, err error)
}

// Factory builds a fresh unit instance.
type Factory func() Unit

// Previous carries the state returned by the preceding Step call. The zero value
// is Absent, which is distinct from any state including an empty one.
type Previous struct {
	state   State
	present bool
}

// Absent is the previous state passed to the first Step call.
var Absent = Previous{}

// Prior wraps a state returned by Step for the next iteration.
func Prior(s State) Previous {
	return Previous{state: s, present: true}
}

// State returns the wrapped state and whether one is present.
func (p Previous) State() (State, bool) {
	return p.state, p.present
}

func (p Previous) IsAbsent() bool { return !p.present }

// Discard is an Emit that drops every state.
func Discard(State) {}
