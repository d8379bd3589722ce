// Package dispatch runs one job against a loaded unit in one of four modes and
// turns every unit failure into an error result.
package dispatch

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/san-kum/stepd/internal/unit"
	"github.com/san-kum/stepd/internal/wire"
)

// Loader resolves unit identifiers. *unit.Registry implements it.
type Loader interface {
	Load(identifier string) (*unit.Handle, error)
}

// EmitFunc receives each normalized dynamics payload, in order, before the job
// result is returned.
type EmitFunc func(data any)

// Outcome is the terminal state of one job.
type Outcome struct {
	Mode     Mode
	Unit     string
	Data     any
	Events   int
	Results  int
	Failures int
	Err      error
}

// Failed reports whether the terminal result is an error payload.
func (o Outcome) Failed() bool {
	return wire.IsErrorResult(o.Data)
}

type Dispatcher struct {
	loader Loader
	logger *slog.Logger
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func New(loader Loader, opts ...Option) *Dispatcher {
	d := &Dispatcher{loader: loader, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch resolves one job to completion. It never panics because of a unit
// and always returns exactly one terminal payload in Outcome.Data.
func (d *Dispatcher) Dispatch(req *Request, emit EmitFunc) Outcome {
	if emit == nil {
		emit = func(any) {}
	}
	if err := req.Validate(); err != nil {
		return failed(Outcome{}, err)
	}

	h, err := d.loader.Load(req.Script)
	if err != nil {
		d.logger.Warn("unit load failed", "script", req.Script, "error", err)
		return failed(Outcome{Unit: req.Script}, err)
	}

	out := Outcome{Mode: SelectMode(req, h), Unit: h.Name}
	logger := d.logger.With("unit", h.Name, "mode", out.Mode.String())
	logger.Debug("dispatching job")

	var s *stream
	if out.Mode.Streams() {
		s = newStream(emit, logger)
	}

	switch out.Mode {
	case ModeTest:
		return d.introspect(out, h, logger)
	case ModeDynamics:
		return d.dynamics(out, h, req, s)
	case ModeRun:
		return d.run(out, h, req, s)
	default:
		return d.sweep(out, h, req, logger)
	}
}

func (d *Dispatcher) introspect(out Outcome, h *unit.Handle, logger *slog.Logger) Outcome {
	fail := func(err error) Outcome {
		logger.Error("introspection failed", "error", err)
		return failed(out, err)
	}

	defaults, err := h.Defaults()
	if err != nil {
		return fail(err)
	}
	result, err := h.Run(defaults.Clone(), unit.Discard)
	if err != nil {
		return fail(err)
	}
	dynamics := any(map[string]any{})
	if h.CanStep() {
		state, ok, err := h.Step(defaults.Clone(), unit.Absent, 0)
		if err != nil {
			return fail(err)
		}
		if ok {
			dynamics = wire.Normalize(state)
		}
	}

	out.Results = 1
	out.Data = map[string]any{
		"input_params":    wire.Normalize(defaults.Clone()),
		"dynamics_params": dynamics,
		"result_params":   wire.Normalize(result),
	}
	return out
}

func (d *Dispatcher) dynamics(out Outcome, h *unit.Handle, req *Request, s *stream) Outcome {
	steps := req.TargetSteps()
	prev := unit.Absent

	for t := 0; t <= steps; t++ {
		state, ok, err := h.Step(req.FixedParams.Clone(), prev, t)
		if err != nil {
			s.logger.Warn("step failed", "t", t, "error", err)
			out.Events = s.seal()
			return failed(out, err)
		}
		if !ok {
			s.logger.Debug("unit ended iteration", "t", t)
			break
		}
		prev = unit.Prior(state)
		s.send(state)
	}

	out.Events = s.seal()
	out.Data = map[string]any{}
	return out
}

func (d *Dispatcher) run(out Outcome, h *unit.Handle, req *Request, s *stream) Outcome {
	result, err := h.Run(req.FixedParams.Clone(), s.send)
	out.Events = s.seal()
	if err != nil {
		s.logger.Warn("run failed", "error", err)
		return failed(out, err)
	}
	out.Results = 1
	out.Data = wire.Normalize(result)
	return out
}

func (d *Dispatcher) sweep(out Outcome, h *unit.Handle, req *Request, logger *slog.Logger) Outcome {
	results := make([]any, len(req.VariableParams))
	var errs []error

	for i, entry := range req.VariableParams {
		result, err := h.Run(unit.Merge(req.FixedParams, entry), unit.Discard)
		if err != nil {
			logger.Warn("sweep entry failed", "index", i, "error", err)
			results[i] = wire.ErrorResult(err.Error())
			errs = append(errs, err)
			continue
		}
		results[i] = result
	}

	out.Results = len(results)
	out.Failures = len(errs)
	out.Err = errors.Join(errs...)
	out.Data = wire.NormalizeAll(results)
	return out
}

func failed(out Outcome, err error) Outcome {
	out.Err = err
	out.Data = wire.ErrorResult(err.Error())
	return out
}

// stream forwards unit states to the emit callback until sealed. States that
// arrive after the unit returned are dropped so no event can follow the result.
type stream struct {
	mu     sync.Mutex
	emit   EmitFunc
	logger *slog.Logger
	count  int
	sealed bool
}

func newStream(emit EmitFunc, logger *slog.Logger) *stream {
	return &stream{emit: emit, logger: logger}
}

func (s *stream) send(state unit.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		s.logger.Warn("dropping state emitted after unit returned")
		return
	}
	s.count++
	s.emit(wire.Normalize(state))
}

func (s *stream) seal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return s.count
}
