package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/san-kum/pidtune/internal/campaign"
	"github.com/san-kum/pidtune/internal/config"
	"github.com/san-kum/pidtune/internal/optim"
	"github.com/san-kum/pidtune/internal/report"
	"github.com/san-kum/pidtune/internal/robustness"
	"github.com/san-kum/pidtune/internal/storage"
	"github.com/san-kum/pidtune/internal/tui"
)

var (
	configFile  string
	preset      string
	dataPath    string
	storeKind   string
	logLevel    string
	metricsAddr string

	mode       string
	methods    []string
	iterations int
	seed       int64
	workers    int
	runTimeout time.Duration

	metric    string
	alpha     float64
	all       bool
	iteration int
	format    string
	output    string

	logger = slog.New(slog.DiscardHandler)
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pidtune",
		Short:         "PID tuning lab for a first-order thermal plant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(os.Stderr, logLevel)
			if err != nil {
				return err
			}
			logger = l
			serveMetrics(metricsAddr)
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (yaml), read over the preset")
	pf.StringVar(&preset, "preset", config.DefaultPreset, "base preset ("+strings.Join(config.ListPresets(), ", ")+")")
	pf.StringVar(&dataPath, "data", config.DefaultDataPath, "result store path")
	pf.StringVar(&storeKind, "store", storage.BackendSQLite, "store backend (sqlite, memory)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "run a tuning campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := campaign.ParseMode(mode)
			if err != nil {
				return err
			}
			return runCampaign(cmd, m)
		},
	}
	tuneCmd.Flags().StringVar(&mode, "mode", string(campaign.ModeFull), "full, tune or robustness")
	addCampaignFlags(tuneCmd)

	robustnessCmd := &cobra.Command{
		Use:   "robustness",
		Short: "evaluate the latest stored gains of every method under plant perturbations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCampaign(cmd, campaign.ModeRobustness)
		},
	}
	robustnessCmd.Flags().StringSliceVar(&methods, "methods", nil, "methods to evaluate")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "run a full campaign with a live progress view",
		RunE:  watchCampaign,
	}
	addCampaignFlags(watchCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Friedman and Nemenyi comparison of stored results",
		RunE:  showStats,
	}
	statsCmd.Flags().StringVar(&metric, "metric", config.MetricMSE, "metric to compare (mse, overshoot, settling_time)")
	statsCmd.Flags().BoolVar(&all, "all", false, "compare on every metric")
	statsCmd.Flags().Float64Var(&alpha, "alpha", 0.05, "significance level (0.10, 0.05, 0.01)")

	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "summarise stored results and robustness per method",
		RunE:  compareMethods,
	}

	historyCmd := &cobra.Command{
		Use:   "history [method]",
		Short: "plot the convergence of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVar(&iteration, "iteration", 0, "iteration of the latest campaign; best run when unset")

	exportCmd := &cobra.Command{
		Use:   "export [method]",
		Short: "export one run, or every stored result when no method is given",
		Args:  cobra.MaximumNArgs(1),
		RunE:  exportResults,
	}
	exportCmd.Flags().IntVar(&iteration, "iteration", 0, "iteration of the latest campaign; best run when unset")
	exportCmd.Flags().StringVar(&format, "format", storage.FormatJSON, "csv or json")
	exportCmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list configuration presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPresets(os.Stdout)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config [path]",
		Short: "write the resolved configuration as yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path := "pidtune.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Printf("config written to %s\n", path)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "delete every stored result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("store cleared")
			return nil
		},
	}

	rootCmd.AddCommand(tuneCmd, robustnessCmd, watchCmd, statsCmd, compareCmd, historyCmd, exportCmd, presetsCmd, configCmd, clearCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, report.Bad.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func addCampaignFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&methods, "methods", nil, "methods to run (ZN, CC, GA, PSO, DE, CMAES, GRID)")
	cmd.Flags().IntVar(&iterations, "iterations", config.DefaultIterations, "independent runs per method")
	cmd.Flags().Int64Var(&seed, "seed", config.DefaultSeed, "campaign base seed")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel runs, 0 for one per CPU")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 0, "deadline of a single run, 0 to disable")
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint stopped", "addr", addr, "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
}

// loadConfig resolves preset, then config file, then explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.GetPreset(preset)
	if cfg == nil {
		return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
	}
	if configFile != "" {
		if err := config.LoadOver(configFile, cfg); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Storage.Backend = storeKind
	}
	if flags.Changed("data") {
		cfg.Storage.Path = dataPath
	}
	if flags.Changed("methods") {
		cfg.Campaign.Methods = cfg.Campaign.Methods[:0]
		for _, name := range methods {
			m, err := optim.ParseMethod(name)
			if err != nil {
				return nil, err
			}
			cfg.Campaign.Methods = append(cfg.Campaign.Methods, m)
		}
	}
	if flags.Changed("iterations") {
		cfg.Campaign.Iterations = iterations
	}
	if flags.Changed("seed") {
		cfg.Campaign.Seed = seed
	}
	if flags.Changed("workers") {
		cfg.Campaign.Workers = workers
	}
	if flags.Changed("run-timeout") {
		cfg.Campaign.RunTimeout = runTimeout
	}
	if flags.Changed("metric") {
		cfg.Stats.Metric = metric
	}
	if flags.Changed("alpha") {
		cfg.Stats.Alpha = alpha
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	store, err := storage.NewStore(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Storage.Path, err)
	}
	return store, nil
}

func runCampaign(cmd *cobra.Command, m campaign.Mode) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := campaign.New(cfg, store, campaign.WithLogger(logger))
	if err != nil {
		return err
	}
	sum, err := r.Run(ctx, m)
	if err != nil {
		return err
	}
	return printSummary(os.Stdout, sum)
}

func printSummary(w io.Writer, sum campaign.Summary) error {
	if len(sum.Results) > 0 {
		byMethod := make(map[string][]storage.TunedResult)
		for _, res := range sum.Results {
			byMethod[res.Method] = append(byMethod[res.Method], res)
		}
		if err := report.Comparison(w, campaign.Compare(byMethod)); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	if sum.Failures > 0 {
		fmt.Fprintln(w, report.Warn.Render(fmt.Sprintf("%d runs failed, see log", sum.Failures)))
	}

	outcomes := make(map[string][]robustness.Outcome, len(sum.Reports))
	for _, rep := range sum.Reports {
		if err := report.RobustnessReport(w, rep); err != nil {
			return err
		}
		outcomes[rep.Method] = rep.Outcomes
	}
	if len(outcomes) > 1 {
		if err := report.RobustnessRanking(w, robustness.Rank(outcomes)); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, report.Subtle.Render(fmt.Sprintf("campaign %s: %d evaluations, %d penalized",
		sum.CampaignID, sum.Fitness.Evaluations, sum.Fitness.Total())))
	return nil
}

func watchCampaign(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	events := make(chan campaign.Event, 256)
	// Log lines would tear the alternate screen.
	r, err := campaign.New(cfg, store, campaign.WithProgress(func(e campaign.Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}))
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer close(events)
		_, err := r.Run(ctx, campaign.ModeFull)
		done <- err
	}()

	uiErr := tui.RunWatch(ctx, cfg.Campaign.Methods, cfg.Campaign.Iterations, events)
	cancel()
	runErr := <-done
	if uiErr != nil && !errors.Is(uiErr, context.Canceled) {
		return uiErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func storedResults(cmd *cobra.Command) (*config.Config, storage.Store, map[string][]storage.TunedResult, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	results, err := store.ResultsByMethod(cmd.Context())
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	if len(results) == 0 {
		store.Close()
		return nil, nil, nil, fmt.Errorf("no stored results in %s, run pidtune tune first", cfg.Storage.Path)
	}
	return cfg, store, results, nil
}

func showStats(cmd *cobra.Command, args []string) error {
	cfg, store, results, err := storedResults(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	var analyses []campaign.Analysis
	if all {
		analyses, err = campaign.AnalyzeAll(results, cfg.Stats.Alpha)
		if err != nil {
			return err
		}
	} else {
		a, err := campaign.Analyze(results, cfg.Stats.Metric, cfg.Stats.Alpha)
		if err != nil {
			return err
		}
		analyses = append(analyses, a)
	}

	for _, a := range analyses {
		for _, warn := range a.Friedman.Warnings {
			logger.Warn("low confidence comparison", "metric", a.Metric, "warning", warn)
		}
		if err := report.Analysis(os.Stdout, a); err != nil {
			return err
		}
	}
	return nil
}

func compareMethods(cmd *cobra.Command, args []string) error {
	_, store, results, err := storedResults(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := report.Comparison(os.Stdout, campaign.Compare(results)); err != nil {
		return err
	}
	rob, err := store.Robustness(cmd.Context())
	if err != nil {
		return err
	}
	if len(rob) == 0 {
		fmt.Println(report.Subtle.Render("\nno robustness results stored"))
		return nil
	}
	fmt.Println()
	return report.RobustnessRanking(os.Stdout, campaign.RankRobustness(rob))
}

// pickRun selects a run of the newest campaign: the given iteration when the
// flag is set, otherwise the lowest-cost run.
func pickRun(cmd *cobra.Command, results map[string][]storage.TunedResult, name string) (storage.TunedResult, error) {
	m, err := optim.ParseMethod(name)
	if err != nil {
		return storage.TunedResult{}, err
	}
	rs := results[m.String()]
	if len(rs) == 0 {
		return storage.TunedResult{}, fmt.Errorf("no stored results for %s", m)
	}

	latest := rs[0].CampaignID
	var (
		best  storage.TunedResult
		found bool
	)
	for _, r := range rs {
		if r.CampaignID != latest {
			break
		}
		if cmd.Flags().Changed("iteration") {
			if r.Iteration == iteration {
				return r, nil
			}
			continue
		}
		if !found || r.Cost < best.Cost {
			best, found = r, true
		}
	}
	if !found {
		return storage.TunedResult{}, fmt.Errorf("%s has no iteration %d in campaign %s", m, iteration, latest)
	}
	return best, nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	_, store, results, err := storedResults(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := pickRun(cmd, results, args[0])
	if err != nil {
		return err
	}
	gens, err := store.Generations(cmd.Context(), run.RunID)
	if err != nil {
		return err
	}
	return report.History(os.Stdout, run, gens)
}

func exportResults(cmd *cobra.Command, args []string) error {
	_, store, results, err := storedResults(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		return exportAll(results)
	}

	run, err := pickRun(cmd, results, args[0])
	if err != nil {
		return err
	}
	gens, err := store.Generations(cmd.Context(), run.RunID)
	if err != nil {
		return err
	}
	if err := storage.ExportRun(output, format, storage.RunExport{Result: run, Generations: gens}); err != nil {
		return err
	}
	if output != "-" {
		fmt.Fprintf(os.Stderr, "exported %s iteration %d to %s\n", run.Method, run.Iteration, output)
	}
	return nil
}

func exportAll(results map[string][]storage.TunedResult) error {
	if format != storage.FormatJSON && format != storage.FormatCSV {
		return fmt.Errorf("unsupported export format %q", format)
	}
	var w io.Writer = os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if format == storage.FormatJSON {
		return storage.WriteJSON(w, results)
	}
	var flat []storage.TunedResult
	for _, m := range optim.AllMethods() {
		flat = append(flat, results[m.String()]...)
	}
	return storage.WriteResultsCSV(w, flat)
}

func listPresets(w io.Writer) error {
	t := report.Header.Render("PRESETS")
	fmt.Fprintln(w, t)
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		mark := " "
		if name == config.DefaultPreset {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-10s %s\n", mark, name, report.Subtle.Render(fmt.Sprintf(
			"%d iterations, %d samples, %s store, methods %v",
			cfg.Campaign.Iterations, cfg.Plant.Samples, cfg.Storage.Backend, cfg.Campaign.Methods)))
	}
	return nil
}
