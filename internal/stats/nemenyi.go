package stats

import (
	"fmt"
	"math"
)

// studentized range critical values for the two-tailed Nemenyi test.
var qAlpha = map[float64]float64{
	0.10: 2.291,
	0.05: 2.569,
	0.01: 3.291,
}

// CriticalDifference is q_alpha * sqrt(k(k+1) / 6N).
func CriticalDifference(k, n int, alpha float64) (float64, error) {
	q, ok := qAlpha[alpha]
	if !ok {
		return 0, fmt.Errorf("%w: %g", ErrUnknownAlpha, alpha)
	}
	if k < 2 || n < 1 {
		return 0, fmt.Errorf("stats: critical difference needs k >= 2 and N >= 1, got k=%d N=%d", k, n)
	}
	fk, fn := float64(k), float64(n)
	return q * math.Sqrt(fk*(fk+1)/(6*fn)), nil
}

type Comparison struct {
	A           string  `json:"a"`
	B           string  `json:"b"`
	Diff        float64 `json:"diff"`
	Significant bool    `json:"significant"`
}

type NemenyiResult struct {
	CD          float64      `json:"cd"`
	Alpha       float64      `json:"alpha"`
	Comparisons []Comparison `json:"comparisons"`
}

// Nemenyi compares every pair of methods of a Friedman result. Pairs are
// listed in rank order, best method first. It does not check fr.Significant.
func Nemenyi(fr FriedmanResult, alpha float64) (NemenyiResult, error) {
	cd, err := CriticalDifference(fr.Methods, fr.Blocks, alpha)
	if err != nil {
		return NemenyiResult{}, err
	}
	res := NemenyiResult{CD: cd, Alpha: alpha}
	for i := 0; i < len(fr.Ranking); i++ {
		for j := i + 1; j < len(fr.Ranking); j++ {
			a, b := fr.Ranking[i], fr.Ranking[j]
			diff := math.Abs(a.Rank - b.Rank)
			res.Comparisons = append(res.Comparisons, Comparison{
				A:           a.Method,
				B:           b.Method,
				Diff:        diff,
				Significant: diff > cd,
			})
		}
	}
	return res, nil
}
