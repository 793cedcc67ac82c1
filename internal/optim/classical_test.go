package optim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/pidtune/internal/fitness"
	"github.com/san-kum/pidtune/internal/pid"
	"github.com/san-kum/pidtune/internal/plant"
)

func TestClassicalRules(t *testing.T) {
	id := Identification{K: 2, L: 1, T: 10}

	tests := []struct {
		name     string
		rule     func(Identification) pid.Gains
		expected pid.Gains
	}{
		// Kp = 1.2*10/(2*1), Ti = 2, Td = 0.5
		{"ziegler-nichols", ZieglerNichols, pid.New(6, 3, 3)},
		// Kp = 0.5*10*1.035, Ti = 30.3/11, Td = 8/100.3
		{"cohen-coon", CohenCoon, pid.New(5.175, 5.175*11/30.3, 5.175*8/100.3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rule(id)
			for i := range got {
				if math.Abs(got[i]-tt.expected[i]) > 1e-9 {
					t.Errorf("gain %d: expected %.9f, got %.9f", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestIdentifyFirstOrder(t *testing.T) {
	p := plant.Nominal()
	grid := plant.HorizonGrid(p, 2, 1000)
	id, err := Identify(p, grid, plant.NominalSetpoint, 0.02)
	if err != nil {
		t.Fatal(err)
	}

	// The horizon stops at two time constants, so the apparent gain is short
	// of the true one by e^-2.
	wantK := p.Gain * (1 - math.Exp(-2))
	if math.Abs(id.K-wantK) > 1e-6 {
		t.Errorf("expected K %.6f, got %.6f", wantK, id.K)
	}
	dt := grid[1] - grid[0]
	if id.L <= 0 || id.L > 0.05*p.TimeConstant {
		t.Errorf("a lag without dead time should give a small L, got %f", id.L)
	}
	if math.Abs(id.T+id.L-(-p.TimeConstant*math.Log(1-0.632*(1-math.Exp(-2))))) > dt {
		t.Errorf("63.2%% point off by more than one sample: L=%f T=%f", id.L, id.T)
	}
}

func TestIdentifyRejectsFlatResponse(t *testing.T) {
	_, err := Identify(plant.Nominal(), plant.Linspace(0, 10, 10), 0, 0.02)
	if !errors.Is(err, ErrIdentify) {
		t.Errorf("expected ErrIdentify, got %v", err)
	}
}

func TestClassicalOptimizer(t *testing.T) {
	p := plant.Nominal()
	eval, err := fitness.New(p, plant.HorizonGrid(p, 2, 1000), plant.NominalSetpoint)
	if err != nil {
		t.Fatal(err)
	}

	for _, m := range []Method{ZN, CC} {
		opt, err := New(m, DefaultSettings())
		if err != nil {
			t.Fatal(err)
		}
		res, err := opt.Optimize(context.Background(), Problem{Objective: eval, Bounds: pid.DefaultBounds()}, nil, nil)
		if err != nil {
			t.Fatalf("%v: %v", m, err)
		}
		if res.Method != m || res.Evaluations != 1 || len(res.History) != 1 {
			t.Errorf("%v: unexpected result shape %+v", m, res)
		}
		if res.Cost != eval.Evaluate(res.Gains) {
			t.Errorf("%v: cost does not match gains", m)
		}
		if res.Gains.Kp() <= 0 || res.Gains.Ki() <= 0 || res.Gains.Kd() <= 0 {
			t.Errorf("%v: expected positive gains, got %v", m, res.Gains)
		}
	}
}

func TestClassicalNeedsProcess(t *testing.T) {
	opt, _ := New(ZN, DefaultSettings())
	prob := Problem{Objective: sphere(pid.New(1, 1, 1)), Bounds: pid.DefaultBounds()}
	if _, err := opt.Optimize(context.Background(), prob, nil, nil); !errors.Is(err, ErrNoProcess) {
		t.Errorf("expected ErrNoProcess, got %v", err)
	}
}
