package plant

import (
	"fmt"
	"math"
)

// Linspace returns n evenly spaced samples over [start, stop], endpoints
// included. It returns nil when n < 2.
func Linspace(start, stop float64, n int) []float64 {
	if n < 2 {
		return nil
	}
	grid := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range grid {
		grid[i] = start + float64(i)*step
	}
	grid[n-1] = stop
	return grid
}

// HorizonGrid spans horizon time constants of p with the given sample count.
func HorizonGrid(p Plant, horizon float64, samples int) []float64 {
	return Linspace(0, horizon*p.TimeConstant, samples)
}

func ValidateGrid(grid []float64) error {
	if len(grid) < 2 {
		return fmt.Errorf("%w: need at least 2 samples, got %d", ErrInvalidGrid, len(grid))
	}
	for i, t := range grid {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("%w: sample %d is not finite", ErrInvalidGrid, i)
		}
		if i > 0 && !(t > grid[i-1]) {
			return fmt.Errorf("%w: samples must be strictly increasing (t[%d]=%g, t[%d]=%g)",
				ErrInvalidGrid, i-1, grid[i-1], i, t)
		}
	}
	return nil
}
