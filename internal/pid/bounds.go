package pid

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Bounds is the per-axis box [Lower, Upper] that every candidate is clamped to.
type Bounds struct {
	Lower Gains
	Upper Gains
}

var ErrInvalidBounds = errors.New("pid: invalid bounds")

// DefaultBounds is [0,20] x [0,2] x [0,5].
func DefaultBounds() Bounds {
	return Bounds{
		Lower: Gains{0, 0, 0},
		Upper: Gains{20, 2, 5},
	}
}

func (b Bounds) Validate() error {
	names := Names()
	for i := 0; i < Dim; i++ {
		lo, hi := b.Lower[i], b.Upper[i]
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return fmt.Errorf("%w: %s bound is not finite", ErrInvalidBounds, names[i])
		}
		if lo < 0 {
			return fmt.Errorf("%w: %s lower bound %g is negative", ErrInvalidBounds, names[i], lo)
		}
		if lo > hi {
			return fmt.Errorf("%w: %s lower bound %g exceeds upper bound %g", ErrInvalidBounds, names[i], lo, hi)
		}
	}
	return nil
}

func (b Bounds) Clamp(g Gains) Gains {
	for i := range g {
		g[i] = b.ClampAxis(i, g[i])
	}
	return g
}

func (b Bounds) ClampAxis(axis int, v float64) float64 {
	if math.IsNaN(v) {
		return b.Lower[axis]
	}
	return math.Min(math.Max(v, b.Lower[axis]), b.Upper[axis])
}

func (b Bounds) Contains(g Gains) bool {
	for i := range g {
		if g[i] < b.Lower[i] || g[i] > b.Upper[i] {
			return false
		}
	}
	return true
}

// Sample draws a point uniformly from the box.
func (b Bounds) Sample(rng *rand.Rand) Gains {
	var g Gains
	for i := range g {
		g[i] = b.SampleAxis(rng, i)
	}
	return g
}

func (b Bounds) SampleAxis(rng *rand.Rand, axis int) float64 {
	return b.Lower[axis] + rng.Float64()*(b.Upper[axis]-b.Lower[axis])
}

func (b Bounds) Mid() Gains {
	var g Gains
	for i := range g {
		g[i] = (b.Lower[i] + b.Upper[i]) / 2
	}
	return g
}
