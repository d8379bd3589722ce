// Package dynamo provides the numeric primitives shared by the bundled units.
//
// The package defines the types used to integrate ordinary differential
// equations (ODEs) one step at a time:
//
//   - [State]: vector representing system state
//   - [System]: interface for ODE systems (dX/dt = f(X, u, t))
//   - [Integrator]: numerical integrator interface
//   - [Configurable]: named physical constants
//
// # Example
//
//	sys := &units.PendulumSystem{Mass: 1, Length: 1, Gravity: 9.81}
//	integ, _ := integrators.New("rk4")
//	x = integ.Step(sys, x, nil, t, dt)
//
// # Thread Safety
//
// Integrators keep scratch buffers and are NOT thread-safe. Each unit instance
// built by the registry owns its own integrator.
package dynamo
