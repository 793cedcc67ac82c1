package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// RunExport bundles a run's result with its convergence history.
type RunExport struct {
	Result      TunedResult        `json:"result"`
	Generations []GenerationRecord `json:"generations"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func WriteGenerationsCSV(w io.Writer, records []GenerationRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"run_id", "method", "iteration", "generation", "best", "mean", "worst"}); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.RunID,
			r.Method,
			strconv.Itoa(r.Iteration),
			strconv.Itoa(r.Generation),
			formatFloat(r.Best),
			formatFloat(r.Mean),
			formatFloat(r.Worst),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteResultsCSV(w io.Writer, results []TunedResult) error {
	cw := csv.NewWriter(w)
	header := []string{
		"run_id", "method", "iteration", "seed", "kp", "ki", "kd", "cost",
		"mse", "overshoot", "settling_time", "gain_margin", "phase_margin", "evaluations",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.RunID,
			r.Method,
			strconv.Itoa(r.Iteration),
			strconv.FormatInt(r.Seed, 10),
			formatFloat(r.Gains.Kp()),
			formatFloat(r.Gains.Ki()),
			formatFloat(r.Gains.Kd()),
			formatFloat(r.Cost),
			formatFloat(r.Performance.MSE),
			formatFloat(r.Performance.Overshoot),
			formatFloat(r.Performance.SettlingTime),
			formatFloat(r.Performance.GainMargin),
			formatFloat(r.Performance.PhaseMargin),
			strconv.Itoa(r.Evaluations),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ExportRun writes a run in the given format to path, or to stdout when path
// is "-". CSV output holds the generation history only.
func ExportRun(path, format string, run RunExport) error {
	if format != FormatJSON && format != FormatCSV {
		return fmt.Errorf("storage: unsupported export format %q", format)
	}
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if format == FormatJSON {
		return WriteJSON(w, run)
	}
	return WriteGenerationsCSV(w, run.Generations)
}
