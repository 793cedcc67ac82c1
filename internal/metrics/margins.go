package metrics

import (
	"math"
	"math/cmplx"

	"github.com/san-kum/pidtune/internal/pid"
	"github.com/san-kum/pidtune/internal/plant"
)

// MarginCap stands in for an infinite margin so the value stays storable.
const MarginCap = 999.99

const (
	sweepMin    = 1e-6
	sweepMax    = 1e4
	sweepPoints = 2000
	bisectIters = 60
)

// Margins returns the gain margin (dB) and phase margin (deg) of the loop
// C(s)G(s). A loop with no phase crossover has an infinite gain margin and
// one with no gain crossover an infinite phase margin; both report MarginCap.
// Where several crossovers exist the smallest margin wins.
func Margins(p plant.Plant, g pid.Gains) (gainDB, phaseDeg float64) {
	loop := func(w float64) complex128 { return p.LoopResponse(g, w) }

	gainDB, phaseDeg = math.Inf(1), math.Inf(1)
	step := math.Log(sweepMax/sweepMin) / float64(sweepPoints-1)

	prevW := sweepMin
	prev := loop(prevW)
	for i := 1; i < sweepPoints; i++ {
		w := sweepMin * math.Exp(float64(i)*step)
		cur := loop(w)

		if crosses(imag(prev), imag(cur)) {
			wc := bisect(prevW, w, func(x float64) float64 { return imag(loop(x)) })
			l := loop(wc)
			if real(l) < 0 {
				gainDB = math.Min(gainDB, -20*math.Log10(cmplx.Abs(l)))
			}
		}
		if crosses(cmplx.Abs(prev)-1, cmplx.Abs(cur)-1) {
			wc := bisect(prevW, w, func(x float64) float64 { return cmplx.Abs(loop(x)) - 1 })
			pm := 180 + cmplx.Phase(loop(wc))*180/math.Pi
			if pm > 180 {
				pm -= 360
			}
			phaseDeg = math.Min(phaseDeg, pm)
		}

		prevW, prev = w, cur
	}

	return capMargin(gainDB), capMargin(phaseDeg)
}

func crosses(a, b float64) bool {
	return (a < 0 && b >= 0) || (a >= 0 && b < 0)
}

// bisect narrows a sign change of f on [lo, hi] in log-frequency.
func bisect(lo, hi float64, f func(float64) float64) float64 {
	flo := f(lo)
	for range bisectIters {
		mid := math.Sqrt(lo * hi)
		fm := f(mid)
		if crosses(flo, fm) {
			hi = mid
		} else {
			lo, flo = mid, fm
		}
	}
	return math.Sqrt(lo * hi)
}

func capMargin(v float64) float64 {
	if math.IsInf(v, 1) || v > MarginCap {
		return MarginCap
	}
	return v
}

// Evaluate scores a simulated response of gains g on p.
func Evaluate(p plant.Plant, g pid.Gains, times, y []float64, setpoint float64) Performance {
	mse, os, st := StepIndices(times, y, setpoint)
	gm, pm := Margins(p, g)
	return Performance{
		MSE:          mse,
		Overshoot:    os,
		SettlingTime: st,
		GainMargin:   gm,
		PhaseMargin:  pm,
	}
}
