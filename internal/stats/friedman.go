// Package stats compares tuning methods over repeated runs with the Friedman
// rank test and the Nemenyi post-hoc test.
package stats

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrInsufficientMethods = errors.New("stats: at least 3 methods are required")
	ErrInsufficientBlocks  = errors.New("stats: at least 3 blocks per method are required")
	ErrUnknownAlpha        = errors.New("stats: no critical value tabulated for alpha")
)

const (
	MinMethods   = 3
	MinBlocks    = 3
	DefaultAlpha = 0.05
)

// ReliableBlocks is the block count below which results carry a warning.
const ReliableBlocks = 5

// MethodRank is one method's rank averaged over blocks; 1 is best.
type MethodRank struct {
	Method string  `json:"method"`
	Rank   float64 `json:"rank"`
}

type FriedmanResult struct {
	Statistic   float64      `json:"statistic"`
	PValue      float64      `json:"p_value"`
	Ranking     []MethodRank `json:"ranking"`
	Methods     int          `json:"methods"`
	Blocks      int          `json:"blocks"`
	Alpha       float64      `json:"alpha"`
	Significant bool         `json:"significant"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// Rank returns the average rank of method, and false if it was not compared.
func (r FriedmanResult) Rank(method string) (float64, bool) {
	for _, mr := range r.Ranking {
		if mr.Method == method {
			return mr.Rank, true
		}
	}
	return 0, false
}

// Friedman ranks methods within each block (lower score is better, ties share
// their average rank) and tests whether the mean ranks differ. Every method's
// samples are truncated to the shortest list, so callers should order samples
// so the ones to keep come first.
func Friedman(samples map[string][]float64, alpha float64) (FriedmanResult, error) {
	methods := make([]string, 0, len(samples))
	for m := range samples {
		methods = append(methods, m)
	}
	sort.Strings(methods)

	k := len(methods)
	if k < MinMethods {
		return FriedmanResult{}, fmt.Errorf("%w: got %d", ErrInsufficientMethods, k)
	}
	n := -1
	for _, m := range methods {
		if n < 0 || len(samples[m]) < n {
			n = len(samples[m])
		}
	}
	if n < MinBlocks {
		return FriedmanResult{}, fmt.Errorf("%w: got %d", ErrInsufficientBlocks, n)
	}

	rankSums := make([]float64, k)
	row := make([]float64, k)
	var tieSum float64
	for b := 0; b < n; b++ {
		for j, m := range methods {
			row[j] = samples[m][b]
		}
		ranks, ties := RankData(row)
		for j, r := range ranks {
			rankSums[j] += r
		}
		tieSum += ties
	}

	fk, fn := float64(k), float64(n)
	var ssbn float64
	for _, r := range rankSums {
		ssbn += r * r
	}

	res := FriedmanResult{
		Methods: k,
		Blocks:  n,
		Alpha:   alpha,
		Ranking: make([]MethodRank, k),
	}
	for j, m := range methods {
		res.Ranking[j] = MethodRank{Method: m, Rank: rankSums[j] / fn}
	}
	sort.SliceStable(res.Ranking, func(i, j int) bool { return res.Ranking[i].Rank < res.Ranking[j].Rank })

	c := 1 - tieSum/(fn*fk*(fk*fk-1))
	if c <= 0 {
		// Every block is a full tie: no evidence of any difference.
		res.Statistic, res.PValue = 0, 1
		res.Warnings = append(res.Warnings, "all blocks are fully tied")
	} else {
		res.Statistic = (12/(fn*fk*(fk+1))*ssbn - 3*fn*(fk+1)) / c
		res.PValue = distuv.ChiSquared{K: fk - 1}.Survival(res.Statistic)
	}
	res.Significant = res.PValue < alpha

	if n < ReliableBlocks {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("only %d blocks per method; at least %d are recommended", n, ReliableBlocks))
	}
	return res, nil
}

// RankData assigns ranks 1..len(x) in ascending order, giving tied values the
// mean of the ranks they span. It also returns sum(t^3 - t) over tie groups.
func RankData(x []float64) ([]float64, float64) {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	ranks := make([]float64, len(x))
	var ties float64
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && x[idx[j]] == x[idx[i]] {
			j++
		}
		// Positions i..j-1 hold ranks i+1..j.
		avg := float64(i+1+j) / 2
		for p := i; p < j; p++ {
			ranks[idx[p]] = avg
		}
		if t := float64(j - i); t > 1 {
			ties += t*t*t - t
		}
		i = j
	}
	return ranks, ties
}
