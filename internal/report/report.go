// Package report renders campaign outcomes for the terminal: aligned tables,
// graded robustness and convergence plots.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/pidtune/internal/campaign"
	"github.com/san-kum/pidtune/internal/robustness"
	"github.com/san-kum/pidtune/internal/storage"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w, Title.Render(title))
}

// Comparison prints the per-method summary, best mean MSE first.
func Comparison(w io.Writer, sums []campaign.MethodSummary) error {
	section(w, "NOMINAL TUNING")
	t := newTable(w)
	fmt.Fprintln(t, "METHOD\tRUNS\tMSE\tOVERSHOOT %\tSETTLING s\tGM dB\tPM deg\tBEST GAINS")
	for _, s := range sums {
		fmt.Fprintf(t, "%s\t%d\t%.4f\t%.2f\t%.1f\t%.2f\t%.2f\t%s\n",
			s.Method, s.Runs, s.MeanMSE, s.MeanOvershoot, s.MeanSettling,
			s.MeanGainMargin, s.MeanPhaseMargin, s.Best.Gains.String())
	}
	return t.Flush()
}

// Results prints one line per run.
func Results(w io.Writer, results []storage.TunedResult) error {
	t := newTable(w)
	fmt.Fprintln(t, "METHOD\tITER\tKP\tKI\tKD\tMSE\tOVERSHOOT %\tSETTLING s\tEVALS\tELAPSED")
	for _, r := range results {
		fmt.Fprintf(t, "%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.2f\t%.1f\t%d\t%s\n",
			r.Method, r.Iteration, r.Gains.Kp(), r.Gains.Ki(), r.Gains.Kd(),
			r.Performance.MSE, r.Performance.Overshoot, r.Performance.SettlingTime,
			r.Evaluations, r.Elapsed.Round(1e6))
	}
	return t.Flush()
}

// RobustnessReport prints every scenario of one method's gains.
func RobustnessReport(w io.Writer, rep robustness.Report) error {
	section(w, fmt.Sprintf("ROBUSTNESS %s  %s", rep.Method, rep.Gains.String()))
	t := newTable(w)
	fmt.Fprintln(t, "SCENARIO\tMSE\tOVERSHOOT %\tSETTLING s\tDEVIATION %")
	for _, o := range rep.Outcomes {
		dev := fmt.Sprintf("%+.2f", o.Deviation)
		if o.Scenario.Name == robustness.NominalScenario {
			dev = "-"
		}
		if o.Failed {
			dev += " (failed)"
		}
		fmt.Fprintf(t, "%s\t%.4f\t%.2f\t%.1f\t%s\n", o.Scenario.Name, o.MSE, o.Overshoot, o.SettlingTime, dev)
	}
	if err := t.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %.2f%%  %s %.2f%% (%s)  %s %s  %s %s\n\n",
		MetricLabel.Render("mean |dev|"), rep.MeanAbsDeviation,
		MetricLabel.Render("max |dev|"), rep.MaxAbsDeviation, rep.Worst,
		MetricLabel.Render("class"), ClassStyle(rep.Class).Render(string(rep.Class)),
		MetricLabel.Render("stable"), Mark(rep.Stable))
	return nil
}

// RobustnessRanking prints methods most robust first.
func RobustnessRanking(w io.Writer, ranked []robustness.Summary) error {
	section(w, "ROBUSTNESS RANKING")
	t := newTable(w)
	fmt.Fprintln(t, "#\tMETHOD\tMEAN |DEV| %\tMAX |DEV| %\tSAMPLES\tCLASS")
	for i, s := range ranked {
		fmt.Fprintf(t, "%d\t%s\t%.2f\t%.2f\t%d\t%s\n",
			i+1, s.Method, s.MeanAbsDeviation, s.MaxAbsDeviation, s.Samples,
			ClassStyle(s.Class).Render(string(s.Class)))
	}
	return t.Flush()
}

// Analysis prints the Friedman test, the Nemenyi pairs and per-method
// descriptives for one metric.
func Analysis(w io.Writer, a campaign.Analysis) error {
	fr := a.Friedman
	section(w, "FRIEDMAN TEST: "+strings.ToUpper(a.Metric))
	fmt.Fprintf(w, "%s %d  %s %d  %s %.4f  %s %.6f  %s %s\n",
		MetricLabel.Render("methods"), fr.Methods,
		MetricLabel.Render("blocks"), fr.Blocks,
		MetricLabel.Render("chi2"), fr.Statistic,
		MetricLabel.Render("p"), fr.PValue,
		MetricLabel.Render(fmt.Sprintf("significant (alpha=%.2f)", fr.Alpha)), Mark(fr.Significant))
	for _, warn := range fr.Warnings {
		fmt.Fprintln(w, Warn.Render("warning: "+warn))
	}

	t := newTable(w)
	fmt.Fprintln(t, "RANK\tMETHOD\tMEAN RANK\tMEAN\tSTD\tMEDIAN\tMIN\tMAX")
	for i, mr := range fr.Ranking {
		d := a.Descriptives[mr.Method]
		fmt.Fprintf(t, "%d\t%s\t%.2f\t%.4g\t%.4g\t%.4g\t%.4g\t%.4g\n",
			i+1, mr.Method, mr.Rank, d.Mean, d.StdDev, d.Median, d.Min, d.Max)
	}
	if err := t.Flush(); err != nil {
		return err
	}

	nr := a.Nemenyi
	fmt.Fprintf(w, "\n%s %.4f\n", MetricLabel.Render("Nemenyi critical difference"), nr.CD)
	t = newTable(w)
	fmt.Fprintln(t, "METHOD A\tMETHOD B\tRANK GAP\tSIGNIFICANT")
	significant := 0
	for _, c := range nr.Comparisons {
		if c.Significant {
			significant++
		}
		fmt.Fprintf(t, "%s\t%s\t%.4f\t%s\n", c.A, c.B, c.Diff, Mark(c.Significant))
	}
	if err := t.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d of %d pairs differ significantly\n\n", significant, len(nr.Comparisons))
	return nil
}

// Convergence plots the best-so-far and generation mean cost of one run.
func Convergence(history []storage.GenerationRecord, width, height int) string {
	if len(history) == 0 {
		return Subtle.Render("no generation history")
	}
	best := make([]float64, len(history))
	mean := make([]float64, len(history))
	for i, g := range history {
		best[i], mean[i] = g.Best, g.Mean
	}
	caption := fmt.Sprintf("%s convergence: best %.4f after %d generations", history[0].Method, best[len(best)-1], len(history))
	if len(history) == 1 {
		return caption
	}
	return asciigraph.PlotMany([][]float64{best, mean},
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
		asciigraph.SeriesLegends("best", "mean"),
		asciigraph.Caption(caption),
	)
}

// History prints a convergence plot followed by the generation table.
func History(w io.Writer, run storage.TunedResult, history []storage.GenerationRecord) error {
	section(w, fmt.Sprintf("%s iteration %d  %s", run.Method, run.Iteration, run.Gains.String()))
	fmt.Fprintln(w, Convergence(history, 70, 12))
	fmt.Fprintln(w)

	t := newTable(w)
	fmt.Fprintln(t, "GEN\tBEST\tMEAN\tWORST")
	for _, g := range history {
		fmt.Fprintf(t, "%d\t%.6f\t%.6f\t%.6f\n", g.Generation, g.Best, g.Mean, g.Worst)
	}
	return t.Flush()
}
