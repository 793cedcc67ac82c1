// Package storage persists tuning campaigns: per-generation convergence
// records, the best gains of every run and robustness outcomes. All writes
// are appends; reads group records by method.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/san-kum/pidtune/internal/metrics"
	"github.com/san-kum/pidtune/internal/pid"
)

var ErrNotInitialized = errors.New("storage: store is not initialized")

// GenerationRecord is one GenerationStat tagged with the run that produced it.
type GenerationRecord struct {
	RunID      string    `json:"run_id"`
	Method     string    `json:"method"`
	Iteration  int       `json:"iteration"`
	Generation int       `json:"generation"`
	Best       float64   `json:"best"`
	Mean       float64   `json:"mean"`
	Worst      float64   `json:"worst"`
	Timestamp  time.Time `json:"timestamp"`
}

// TunedResult is the outcome of one optimizer run. Cost is the objective
// value the optimizer reported, Performance the full index set of its gains.
// Seed is zero for deterministic methods.
type TunedResult struct {
	RunID           string              `json:"run_id"`
	CampaignID      string              `json:"campaign_id"`
	CampaignStarted time.Time           `json:"campaign_started"`
	Method          string              `json:"method"`
	Iteration       int                 `json:"iteration"`
	Seed            int64               `json:"seed"`
	Gains           pid.Gains           `json:"gains"`
	Cost            float64             `json:"cost"`
	Performance     metrics.Performance `json:"performance"`
	Evaluations     int                 `json:"evaluations"`
	Elapsed         time.Duration       `json:"elapsed"`
	Timestamp       time.Time           `json:"timestamp"`
}

// RobustnessRecord is one scenario outcome for a method's gains.
type RobustnessRecord struct {
	RunID        string    `json:"run_id"`
	CampaignID   string    `json:"campaign_id"`
	Method       string    `json:"method"`
	Scenario     string    `json:"scenario"`
	Gains        pid.Gains `json:"gains"`
	MSE          float64   `json:"mse"`
	Overshoot    float64   `json:"overshoot"`
	SettlingTime float64   `json:"settling_time"`
	Deviation    float64   `json:"deviation"`
	Failed       bool      `json:"failed"`
	Timestamp    time.Time `json:"timestamp"`
}

// Store is an append-only result sink.
//
// ResultsByMethod lists each method's results newest campaign first and, within
// a campaign, by iteration, so index i of every method belongs to the same
// block when results are compared across methods.
type Store interface {
	Init(ctx context.Context) error
	AppendGenerations(ctx context.Context, records []GenerationRecord) error
	AppendResult(ctx context.Context, r TunedResult) error
	AppendRobustness(ctx context.Context, records []RobustnessRecord) error
	ResultsByMethod(ctx context.Context) (map[string][]TunedResult, error)
	LatestResult(ctx context.Context, method string) (TunedResult, bool, error)
	Generations(ctx context.Context, runID string) ([]GenerationRecord, error)
	Robustness(ctx context.Context) (map[string][]RobustnessRecord, error)
	Clear(ctx context.Context) error
	Close() error
}

// newer reports whether a sorts before b in ResultsByMethod order.
func newer(a, b TunedResult) bool {
	if !a.CampaignStarted.Equal(b.CampaignStarted) {
		return a.CampaignStarted.After(b.CampaignStarted)
	}
	if a.CampaignID != b.CampaignID {
		return a.CampaignID < b.CampaignID
	}
	return a.Iteration < b.Iteration
}
