package plant

import (
	"errors"
	"fmt"
)

// Domain errors for plant construction and simulation.
var (
	// ErrNonPhysical indicates a non-positive gain or time constant, or gains
	// that make the closed loop improper.
	ErrNonPhysical = errors.New("plant: non-physical parameters")

	// ErrUnstable indicates the simulated response stopped being finite.
	ErrUnstable = errors.New("plant: simulation unstable (response diverged)")

	// ErrInvalidGrid indicates a time grid that is too short, unordered or not finite.
	ErrInvalidGrid = errors.New("plant: invalid time grid")

	// ErrUnknownSolver indicates an unsupported solver name.
	ErrUnknownSolver = errors.New("plant: unknown solver")
)

// SimulationError wraps an error with the sample at which it happened.
type SimulationError struct {
	Step    int
	Time    float64
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("sample %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
