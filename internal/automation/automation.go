// Package automation loads scripted job sequences from YAML and encodes them
// as worker input.
package automation

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/stepd/internal/dispatch"
	"github.com/san-kum/stepd/internal/optim"
	"github.com/san-kum/stepd/internal/unit"
	"github.com/san-kum/stepd/internal/wire"
)

// Scenario is a named list of jobs, run in order.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep describes one job. Sweep axes and Ranges are combined into a
// single grid; a step with neither is not a sweep.
type ScenarioStep struct {
	Unit        string           `yaml:"unit"`
	RequestID   string           `yaml:"request_id"`
	Params      unit.Params      `yaml:"params"`
	Sweep       map[string][]any `yaml:"sweep"`
	Ranges      []ParameterRange `yaml:"ranges"`
	Test        bool             `yaml:"test"`
	TargetSteps int              `yaml:"target_steps"`
}

// ParameterRange sweeps Param over Count evenly spaced values in [Min, Max].
type ParameterRange struct {
	Param string  `yaml:"param"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Count int     `yaml:"count"`
}

func (r ParameterRange) Values() []any {
	if r.Count <= 1 {
		return []any{r.Min}
	}
	step := (r.Max - r.Min) / float64(r.Count-1)
	values := make([]any, r.Count)
	for i := range values {
		values[i] = r.Min + float64(i)*step
	}
	return values
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("no steps")
	}
	for i, step := range s.Steps {
		if step.Unit == "" {
			return fmt.Errorf("step %d: unit is required", i+1)
		}
		for _, r := range step.Ranges {
			if r.Param == "" {
				return fmt.Errorf("step %d: range without param", i+1)
			}
		}
	}
	return nil
}

// Request builds the job payload for the step.
func (st ScenarioStep) Request() *dispatch.Request {
	fixed := st.Params.Clone()
	if st.Test {
		fixed["test"] = true
	}
	if st.TargetSteps > 0 {
		fixed["target_steps"] = st.TargetSteps
	}

	req := &dispatch.Request{Script: st.Unit, FixedParams: fixed}

	grid := optim.NewGridSearch()
	for _, name := range sortedKeys(st.Sweep) {
		grid.Add(name, st.Sweep[name]...)
	}
	for _, r := range st.Ranges {
		grid.Add(r.Param, r.Values()...)
	}
	if len(st.Sweep) > 0 || len(st.Ranges) > 0 {
		req.VariableParams = grid.Points()
	}
	return req
}

// WriteJobs writes one job line per step. Steps without a request_id get
// "<scenario name>-<n>".
func (s *Scenario) WriteJobs(w io.Writer) error {
	for i, step := range s.Steps {
		id := step.RequestID
		if id == "" {
			id = fmt.Sprintf("%s-%d", s.Name, i+1)
		}
		frame, err := JobFrame(id, step.Request())
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// JobFrame encodes req as one line of worker input.
func JobFrame(requestID string, req *dispatch.Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	id, err := json.Marshal(requestID)
	if err != nil {
		return nil, err
	}
	return wire.Encode(wire.Envelope{Type: wire.TypeJob, RequestID: id, Request: payload})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
