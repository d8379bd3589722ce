package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/san-kum/stepd/internal/dispatch"
	"github.com/san-kum/stepd/internal/optim"
	"github.com/san-kum/stepd/internal/unit"
	"github.com/san-kum/stepd/internal/wire"
)

// parseValue decodes s as JSON when it is valid JSON and keeps it as a plain
// string otherwise, so --param name=pendulum and --param theta=0.3 both work.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func splitAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", s)
	}
	return key, value, nil
}

func parseParams(assignments []string) (unit.Params, error) {
	params := unit.Params{}
	for _, a := range assignments {
		key, value, err := splitAssignment(a)
		if err != nil {
			return nil, err
		}
		params[key] = parseValue(value)
	}
	return params, nil
}

// parseSweep turns key=v1,v2 assignments into a grid. Repeated keys replace
// earlier values.
func parseSweep(assignments []string) (*optim.GridSearch, error) {
	grid := optim.NewGridSearch()
	for _, a := range assignments {
		key, value, err := splitAssignment(a)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(value, ",")
		values := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, parseValue(p))
			}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("sweep %q has no values", key)
		}
		grid.Add(key, values...)
	}
	return grid, nil
}

type jobSpec struct {
	Unit   string
	Preset unit.Params
	Params unit.Params
	Grid   *optim.GridSearch
	Test   bool
	Steps  int
}

// request builds the job payload. Explicit params override the preset.
func (s jobSpec) request() *dispatch.Request {
	fixed := unit.Merge(s.Preset, s.Params)
	if s.Test {
		fixed["test"] = true
	}
	if s.Steps > 0 {
		fixed["target_steps"] = s.Steps
	}

	req := &dispatch.Request{Script: s.Unit, FixedParams: fixed}
	if s.Grid != nil && s.Grid.Size() > 0 {
		req.VariableParams = s.Grid.Points()
	}
	return req
}

func decodeMessage(line []byte) (wire.Message, error) {
	var msg wire.Message
	err := json.Unmarshal(line, &msg)
	return msg, err
}
