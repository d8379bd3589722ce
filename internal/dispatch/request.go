package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/stepd/internal/unit"
)

// ErrMalformed marks a job payload that cannot be dispatched.
var ErrMalformed = errors.New("dispatch: malformed request")

// Request is the payload of a job message. A nil VariableParams means the
// field was absent or null; an empty, non-nil slice is an empty sweep.
type Request struct {
	Script         string        `json:"script"`
	FixedParams    unit.Params   `json:"fixed_params"`
	VariableParams []unit.Params `json:"variable_params"`
}

// ParseRequest decodes and validates a raw job payload.
func ParseRequest(raw json.RawMessage) (*Request, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: missing request", ErrMalformed)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *Request) Validate() error {
	if r.Script == "" {
		return fmt.Errorf("%w: script is required", ErrMalformed)
	}
	if r.FixedParams == nil {
		return fmt.Errorf("%w: fixed_params is required", ErrMalformed)
	}
	return nil
}

// IsSweep reports whether variable_params was supplied.
func (r *Request) IsSweep() bool {
	return r.VariableParams != nil
}

// TargetSteps is the last iteration index of a dynamics stream. Falsy,
// non-numeric and values below one all mean a single step.
func (r *Request) TargetSteps() int {
	v := r.FixedParams["target_steps"]
	if !unit.Truthy(v) {
		return 1
	}
	f, ok := unit.ToFloat(v)
	switch {
	case !ok || math.IsNaN(f) || f < 1:
		return 1
	case f > maxSteps:
		return maxSteps
	default:
		return int(f)
	}
}

const maxSteps = 1<<31 - 1
