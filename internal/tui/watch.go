// Package tui follows a running campaign in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/pidtune/internal/campaign"
	"github.com/san-kum/pidtune/internal/optim"
	"github.com/san-kum/pidtune/internal/report"
	"github.com/san-kum/pidtune/internal/robustness"
)

const (
	barWidth   = 20
	traceWidth = 24
	maxErrors  = 4
)

type eventMsg campaign.Event

type closedMsg struct{}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitFor(events <-chan campaign.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

type methodRow struct {
	method  optim.Method
	done    int
	failed  int
	running int
	best    *campaign.Event
	current string
	trace   []float64
	class   robustness.Class
}

// Watch is the bubbletea model behind the watch command.
type Watch struct {
	events     <-chan campaign.Event
	rows       map[optim.Method]*methodRow
	order      []optim.Method
	iterations int
	finished   int
	failed     int
	started    time.Time
	now        time.Time
	done       bool
	errs       []string
	width      int
}

func NewWatch(methods []optim.Method, iterations int, events <-chan campaign.Event) Watch {
	w := Watch{
		events:     events,
		rows:       make(map[optim.Method]*methodRow, len(methods)),
		order:      append([]optim.Method(nil), methods...),
		iterations: iterations,
		started:    time.Now(),
		width:      80,
	}
	w.now = w.started
	for _, m := range methods {
		w.rows[m] = &methodRow{method: m}
	}
	return w
}

func (w Watch) Init() tea.Cmd {
	return tea.Batch(waitFor(w.events), tick())
}

func (w Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return w, tea.Quit
		}
	case tea.WindowSizeMsg:
		w.width = msg.Width
	case tickMsg:
		if w.done {
			return w, nil
		}
		w.now = time.Time(msg)
		return w, tick()
	case eventMsg:
		w.apply(campaign.Event(msg))
		return w, waitFor(w.events)
	case closedMsg:
		w.done = true
	}
	return w, nil
}

func (w *Watch) row(m optim.Method) *methodRow {
	r, ok := w.rows[m]
	if !ok {
		r = &methodRow{method: m}
		w.rows[m] = r
		w.order = append(w.order, m)
	}
	return r
}

func (w *Watch) apply(e campaign.Event) {
	switch e.Kind {
	case campaign.EventRunStarted:
		r := w.row(e.Method)
		r.running++
		r.current = e.RunID
		r.trace = r.trace[:0]
	case campaign.EventGeneration:
		r := w.row(e.Method)
		if e.RunID == r.current {
			r.trace = append(r.trace, e.Stat.Best)
		}
	case campaign.EventRunFinished:
		r := w.row(e.Method)
		r.running--
		r.done++
		w.finished++
		if r.best == nil || e.Result.Cost < r.best.Result.Cost {
			ev := e
			r.best = &ev
		}
	case campaign.EventRunFailed:
		r := w.row(e.Method)
		r.running--
		r.failed++
		w.failed++
		w.errs = append(w.errs, fmt.Sprintf("%s #%d: %v", e.Method, e.Iteration, e.Err))
		if len(w.errs) > maxErrors {
			w.errs = w.errs[len(w.errs)-maxErrors:]
		}
	case campaign.EventRobustness:
		w.row(e.Method).class = e.Report.Class
	case campaign.EventDone:
		w.done = true
	}
}

func (w Watch) total() int { return w.iterations * len(w.order) }

func (w Watch) View() string {
	var b strings.Builder

	elapsed := w.now.Sub(w.started).Round(time.Second)
	b.WriteString("\n  " + report.Title.Render("pidtune") + "  " + report.Subtle.Render("campaign watch") +
		"    " + report.MetricLabel.Render("elapsed ") + report.MetricValue.Render(elapsed.String()) + "\n")
	b.WriteString("  " + report.Separator(min(w.width-4, 72)) + "\n\n")

	total := w.total()
	pct := 0.0
	if total > 0 {
		pct = float64(w.finished+w.failed) / float64(total)
	}
	fmt.Fprintf(&b, "  %s %d/%d runs", report.ProgressBar(pct, barWidth*2), w.finished+w.failed, total)
	if w.failed > 0 {
		b.WriteString("  " + report.Bad.Render(fmt.Sprintf("%d failed", w.failed)))
	}
	b.WriteString("\n\n")

	b.WriteString("  " + report.Header.Render(fmt.Sprintf("%-7s %-*s %-7s %-12s %-30s %-*s %s",
		"METHOD", barWidth, "PROGRESS", "RUNS", "BEST COST", "GAINS", traceWidth, "CURRENT RUN", "ROBUSTNESS")) + "\n")
	for _, m := range w.order {
		r := w.rows[m]
		p := 0.0
		if w.iterations > 0 {
			p = float64(r.done+r.failed) / float64(w.iterations)
		}
		cost, gains := "-", "-"
		if r.best != nil {
			cost = fmt.Sprintf("%.6g", r.best.Result.Cost)
			gains = r.best.Result.Gains.String()
		}
		class := report.Subtle.Render("pending")
		if r.class != "" {
			class = report.ClassStyle(r.class).Render(string(r.class))
		}
		status := fmt.Sprintf("%d/%d", r.done, w.iterations)
		if r.running > 0 {
			status += "*"
		}
		fmt.Fprintf(&b, "  %-7s %s %-7s %-12s %-30s %s %s\n",
			m, report.ProgressBar(p, barWidth), status, cost, gains, padTrace(r.trace), class)
	}

	if len(w.errs) > 0 {
		b.WriteString("\n")
		for _, e := range w.errs {
			b.WriteString("  " + report.Bad.Render(e) + "\n")
		}
	}

	b.WriteString("\n")
	if w.done {
		b.WriteString("  " + report.Good.Render("campaign finished") + "  ")
	}
	b.WriteString(report.KeyHint.Render("q quit") + "\n")
	return b.String()
}

// padTrace keeps the column width fixed while a run has fewer generations
// than columns.
func padTrace(trace []float64) string {
	if len(trace) == 0 {
		return strings.Repeat(" ", traceWidth)
	}
	n := min(len(trace), traceWidth)
	return report.Sparkline(trace, n) + strings.Repeat(" ", traceWidth-n)
}

// RunWatch shows events until the channel closes and the user quits, or ctx
// ends.
func RunWatch(ctx context.Context, methods []optim.Method, iterations int, events <-chan campaign.Event) error {
	p := tea.NewProgram(NewWatch(methods, iterations, events), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
