package plant

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/san-kum/pidtune/internal/pid"
)

func TestNewRejectsNonPhysical(t *testing.T) {
	tests := []struct {
		name      string
		gain, tau float64
	}{
		{"zero gain", 0, 10},
		{"negative gain", -1, 10},
		{"zero tau", 1, 0},
		{"negative tau", 1, -5},
		{"nan gain", math.NaN(), 10},
		{"inf tau", 1, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.gain, tt.tau)
			if !errors.Is(err, ErrNonPhysical) {
				t.Errorf("expected ErrNonPhysical, got %v", err)
			}
		})
	}
}

func TestOpenLoopMatchesFirstOrder(t *testing.T) {
	p := Nominal()
	grid := Linspace(0, 2*p.TimeConstant, 101)
	y, err := p.OpenLoop(grid, 2.0)
	if err != nil {
		t.Fatalf("open loop failed: %v", err)
	}
	if y[0] != 0 {
		t.Errorf("response should start at zero, got %f", y[0])
	}
	expected := p.Gain * 2.0 * (1 - math.Exp(-2))
	if math.Abs(y[len(y)-1]-expected) > 1e-9 {
		t.Errorf("final value %.9f, expected %.9f", y[len(y)-1], expected)
	}
}

func TestSimulateProportionalSteadyState(t *testing.T) {
	p, _ := New(2.0, 5.0)
	g := pid.New(3.0, 0, 0)
	grid := Linspace(0, 200, 2001)

	_, y, err := p.Simulate(g, grid, 1.0)
	if err != nil {
		t.Fatalf("simulate failed: %v", err)
	}

	// P-only control leaves the classic K*Kp/(1+K*Kp) offset.
	expected := 6.0 / 7.0
	if math.Abs(y[len(y)-1]-expected) > 1e-6 {
		t.Errorf("steady state %.8f, expected %.8f", y[len(y)-1], expected)
	}
}

func TestSimulateIntegralRemovesOffset(t *testing.T) {
	p := Nominal()
	g := pid.New(2.0, 0.05, 0.5)
	grid := Linspace(0, 20*p.TimeConstant, 4000)

	_, y, err := p.Simulate(g, grid, NominalSetpoint)
	if err != nil {
		t.Fatalf("simulate failed: %v", err)
	}
	if math.Abs(y[len(y)-1]-NominalSetpoint) > 1e-3 {
		t.Errorf("integral action should reach setpoint, got %.6f", y[len(y)-1])
	}
}

func TestSimulateDerivativeFeedthrough(t *testing.T) {
	p := Nominal()
	g := pid.New(1, 0.1, 4)
	grid := Linspace(0, 10, 11)

	_, y, err := p.Simulate(g, grid, 80)
	if err != nil {
		t.Fatalf("simulate failed: %v", err)
	}
	d := p.Gain * g.Kd() / (p.TimeConstant + p.Gain*g.Kd())
	if math.Abs(y[0]-d*80) > 1e-12 {
		t.Errorf("initial output %.6f, expected direct feedthrough %.6f", y[0], d*80)
	}
}

func TestExactAndRK4Agree(t *testing.T) {
	p := Nominal()
	grid := HorizonGrid(p, 2, 1000)
	for _, g := range []pid.Gains{
		pid.New(20, 2, 5),
		pid.New(0.5, 0.01, 0),
		pid.New(10, 0, 2.5),
	} {
		_, exact, err := p.SimulateWith(SolverExact, g, grid, NominalSetpoint)
		if err != nil {
			t.Fatalf("exact failed: %v", err)
		}
		_, rk, err := p.SimulateWith(SolverRK4, g, grid, NominalSetpoint)
		if err != nil {
			t.Fatalf("rk4 failed: %v", err)
		}
		for i := range exact {
			if math.Abs(exact[i]-rk[i]) > 1e-2 {
				t.Fatalf("gains %v sample %d: exact %.6f rk4 %.6f", g, i, exact[i], rk[i])
			}
		}
	}
}

func TestSimulateDeterministic(t *testing.T) {
	p := Nominal()
	grid := HorizonGrid(p, 2, 500)
	g := pid.New(3.3, 0.7, 1.1)

	_, a, err := p.Simulate(g, grid, NominalSetpoint)
	if err != nil {
		t.Fatal(err)
	}
	_, b, err := p.Simulate(g, grid, NominalSetpoint)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestSimulateRejectsImproperLoop(t *testing.T) {
	p := Nominal()
	kd := -p.TimeConstant/p.Gain - 1
	_, _, err := p.Simulate(pid.New(1, 0, kd), Linspace(0, 10, 5), 1)
	if !errors.Is(err, ErrNonPhysical) {
		t.Errorf("expected ErrNonPhysical, got %v", err)
	}
}

func TestSimulateRejectsBadGrid(t *testing.T) {
	p := Nominal()
	g := pid.New(1, 0, 0)
	for _, grid := range [][]float64{nil, {0}, {0, 1, 1}, {0, math.NaN()}} {
		if _, _, err := p.Simulate(g, grid, 1); !errors.Is(err, ErrInvalidGrid) {
			t.Errorf("grid %v: expected ErrInvalidGrid, got %v", grid, err)
		}
	}
}

func TestParseSolver(t *testing.T) {
	if s, err := ParseSolver(""); err != nil || s != SolverExact {
		t.Errorf("empty name should default to exact, got %q %v", s, err)
	}
	if _, err := ParseSolver("euler"); !errors.Is(err, ErrUnknownSolver) {
		t.Errorf("expected ErrUnknownSolver, got %v", err)
	}
}

func TestLoopResponseProportional(t *testing.T) {
	p, _ := New(1, 1)
	// At w = 1 the lag contributes 1/(j+1): magnitude 1/sqrt(2), phase -45deg.
	l := p.LoopResponse(pid.New(2, 0, 0), 1)
	if math.Abs(cmplx.Abs(l)-2/math.Sqrt2) > 1e-12 {
		t.Errorf("unexpected magnitude %f", cmplx.Abs(l))
	}
	if math.Abs(p.Phase(pid.New(2, 0, 0), 1)+45) > 1e-9 {
		t.Errorf("unexpected phase %f", p.Phase(pid.New(2, 0, 0), 1))
	}
}

func TestLinspace(t *testing.T) {
	g := Linspace(0, 1, 5)
	if len(g) != 5 || g[0] != 0 || g[4] != 1 || g[2] != 0.5 {
		t.Errorf("unexpected grid %v", g)
	}
	if Linspace(0, 1, 1) != nil {
		t.Error("expected nil for n < 2")
	}
}

func TestPolesStable(t *testing.T) {
	loop, err := NewClosedLoop(Nominal(), pid.New(20, 2, 5))
	if err != nil {
		t.Fatal(err)
	}
	for _, pole := range loop.Poles() {
		if real(pole) >= 0 {
			t.Errorf("pole %v should be in the left half plane", pole)
		}
	}
}
