package config

import (
	"sort"

	"github.com/san-kum/stepd/internal/unit"
)

var Presets = map[string]map[string]unit.Params{
	"pendulum": {
		"small":        {"theta": 0.2, "omega": 0.0, "duration": 20.0},
		"large":        {"theta": 2.5, "omega": 0.0, "duration": 20.0},
		"spinning":     {"theta": 0.1, "omega": 8.0, "duration": 30.0},
		"frictionless": {"theta": 0.5, "damping": 0.0, "integrator": "verlet"},
	},
	"spring_mass": {
		"bounce": {"x": 2.0, "v": 0.0, "duration": 20.0},
		"fast":   {"x": 1.0, "v": 5.0, "duration": 10.0},
		"driven": {"x": 0.0, "v": 0.0, "force": 2.0},
	},
	"logistic": {
		"stable": {"r": 2.8, "x0": 0.2},
		"cycle":  {"r": 3.2, "x0": 0.2},
		"chaos":  {"r": 3.9, "x0": 0.2, "generations": 200},
	},
}

// GetPreset returns a copy of a built-in preset, or nil if unit or preset
// is unknown.
func GetPreset(unitName, preset string) unit.Params {
	unitPresets, ok := Presets[unitName]
	if !ok {
		return nil
	}
	p, ok := unitPresets[preset]
	if !ok {
		return nil
	}
	return p.Clone()
}

func ListPresets(unitName string) []string {
	unitPresets, ok := Presets[unitName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(unitPresets))
	for name := range unitPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
