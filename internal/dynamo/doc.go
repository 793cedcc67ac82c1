// Package dynamo provides the numerical primitives the plant oracle is built on.
//
// The package defines the fundamental types for integrating a linear
// time-invariant system driven by a constant reference:
//
//   - [State]: vector representing system state
//   - [System]: interface for ODE systems (dX/dt = f(X, u, t))
//   - [Integrator]: numerical stepper interface
//
// # Example
//
//	loop := plant.ClosedLoop(p, gains)
//	integ := integrators.NewRK4()
//	x = integ.Step(loop, x, dynamo.Control{setpoint}, t, dt)
//
// # Thread Safety
//
// States are plain slices and are never shared between calls. Integrators
// keep scratch buffers and must not be shared between goroutines; create one
// per simulation.
package dynamo
