package campaign

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/pidtune/internal/config"
	"github.com/san-kum/pidtune/internal/robustness"
	"github.com/san-kum/pidtune/internal/stats"
	"github.com/san-kum/pidtune/internal/storage"
)

// MethodSummary averages the stored results of one method.
type MethodSummary struct {
	Method          string              `json:"method"`
	Runs            int                 `json:"runs"`
	MeanMSE         float64             `json:"mean_mse"`
	MeanOvershoot   float64             `json:"mean_overshoot"`
	MeanSettling    float64             `json:"mean_settling_time"`
	MeanGainMargin  float64             `json:"mean_gain_margin"`
	MeanPhaseMargin float64             `json:"mean_phase_margin"`
	Best            storage.TunedResult `json:"best"`
}

// Compare summarises every method, lowest mean MSE first.
func Compare(results map[string][]storage.TunedResult) []MethodSummary {
	out := make([]MethodSummary, 0, len(results))
	for method, rs := range results {
		if len(rs) == 0 {
			continue
		}
		s := MethodSummary{Method: method, Runs: len(rs), Best: rs[0]}
		mse := make([]float64, len(rs))
		os := make([]float64, len(rs))
		st := make([]float64, len(rs))
		gm := make([]float64, len(rs))
		pm := make([]float64, len(rs))
		for i, r := range rs {
			mse[i] = r.Performance.MSE
			os[i] = r.Performance.Overshoot
			st[i] = r.Performance.SettlingTime
			gm[i] = r.Performance.GainMargin
			pm[i] = r.Performance.PhaseMargin
			if r.Performance.MSE < s.Best.Performance.MSE {
				s.Best = r
			}
		}
		s.MeanMSE = stat.Mean(mse, nil)
		s.MeanOvershoot = stat.Mean(os, nil)
		s.MeanSettling = stat.Mean(st, nil)
		s.MeanGainMargin = stat.Mean(gm, nil)
		s.MeanPhaseMargin = stat.Mean(pm, nil)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MeanMSE != out[j].MeanMSE {
			return out[i].MeanMSE < out[j].MeanMSE
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// RankRobustness converts stored scenario records and ranks methods most
// robust first.
func RankRobustness(records map[string][]storage.RobustnessRecord) []robustness.Summary {
	outcomes := make(map[string][]robustness.Outcome, len(records))
	for method, rs := range records {
		for _, r := range rs {
			outcomes[method] = append(outcomes[method], robustness.Outcome{
				Scenario:     robustness.Scenario{Name: r.Scenario},
				MSE:          r.MSE,
				Overshoot:    r.Overshoot,
				SettlingTime: r.SettlingTime,
				Deviation:    r.Deviation,
				Failed:       r.Failed,
			})
		}
	}
	return robustness.Rank(outcomes)
}

// Analysis is the statistical comparison of methods on one metric.
type Analysis struct {
	Metric       string                   `json:"metric"`
	Friedman     stats.FriedmanResult     `json:"friedman"`
	Nemenyi      stats.NemenyiResult      `json:"nemenyi"`
	Descriptives map[string]stats.Summary `json:"descriptives"`
}

// Metrics lists the indices Analyze understands.
func Metrics() []string {
	return []string{config.MetricMSE, config.MetricOvershoot, config.MetricSettling}
}

func metricValue(r storage.TunedResult, metric string) (float64, error) {
	switch metric {
	case config.MetricMSE:
		return r.Performance.MSE, nil
	case config.MetricOvershoot:
		return r.Performance.Overshoot, nil
	case config.MetricSettling:
		return r.Performance.SettlingTime, nil
	default:
		return 0, fmt.Errorf("campaign: unknown metric %q", metric)
	}
}

// Analyze runs Friedman and Nemenyi over metric. Each method's results are
// taken in store order, so block i pairs the i-th newest runs of every method.
func Analyze(results map[string][]storage.TunedResult, metric string, alpha float64) (Analysis, error) {
	samples := make(map[string][]float64, len(results))
	for method, rs := range results {
		xs := make([]float64, len(rs))
		for i, r := range rs {
			v, err := metricValue(r, metric)
			if err != nil {
				return Analysis{}, err
			}
			xs[i] = v
		}
		samples[method] = xs
	}

	fr, err := stats.Friedman(samples, alpha)
	if err != nil {
		return Analysis{}, fmt.Errorf("%s: %w", metric, err)
	}
	nr, err := stats.Nemenyi(fr, alpha)
	if err != nil {
		return Analysis{}, fmt.Errorf("%s: %w", metric, err)
	}

	a := Analysis{Metric: metric, Friedman: fr, Nemenyi: nr, Descriptives: make(map[string]stats.Summary, len(samples))}
	for method, xs := range samples {
		a.Descriptives[method] = stats.Describe(xs[:fr.Blocks])
	}
	return a, nil
}

// AnalyzeAll runs Analyze for every metric and stops at the first error.
func AnalyzeAll(results map[string][]storage.TunedResult, alpha float64) ([]Analysis, error) {
	out := make([]Analysis, 0, len(Metrics()))
	for _, m := range Metrics() {
		a, err := Analyze(results, m, alpha)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}
