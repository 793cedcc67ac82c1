// Package pid holds the controller gain vector and the box it is tuned in.
package pid

import (
	"fmt"
	"math"
)

// Dim is the number of tunable gains.
const Dim = 3

const (
	IdxKp = iota
	IdxKi
	IdxKd
)

// Gains is a (Kp, Ki, Kd) triple. Optimizers treat it as a point in R^3.
type Gains [Dim]float64

func New(kp, ki, kd float64) Gains {
	return Gains{kp, ki, kd}
}

func (g Gains) Kp() float64 { return g[IdxKp] }
func (g Gains) Ki() float64 { return g[IdxKi] }
func (g Gains) Kd() float64 { return g[IdxKd] }

func (g Gains) IsValid() bool {
	for _, v := range g {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (g Gains) String() string {
	return fmt.Sprintf("Kp=%.4f Ki=%.4f Kd=%.4f", g[IdxKp], g[IdxKi], g[IdxKd])
}

// Names returns the axis labels in vector order.
func Names() [Dim]string {
	return [Dim]string{"Kp", "Ki", "Kd"}
}
