package units

import "github.com/san-kum/stepd/internal/unit"

// Register installs every bundled unit into reg.
func Register(reg *unit.Registry) error {
	builtins := map[string]unit.Factory{
		"pendulum":    func() unit.Unit { return NewPendulum() },
		"spring_mass": func() unit.Unit { return NewSpringMass() },
		"logistic":    func() unit.Unit { return NewLogistic() },
		"sweep":       func() unit.Unit { return NewSweep() },
	}
	for name, f := range builtins {
		if err := reg.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}
