package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/pidtune/internal/metrics"
	"github.com/san-kum/pidtune/internal/pid"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewStore(BackendMemory, "")
	require.NoError(t, err)
	sq, err := NewStore(BackendSQLite, filepath.Join(t.TempDir(), "pidtune.db"))
	require.NoError(t, err)

	out := map[string]Store{"memory": mem, "sqlite": sq}
	for _, s := range out {
		require.NoError(t, s.Init(context.Background()))
		st := s
		t.Cleanup(func() { _ = st.Close() })
	}
	return out
}

func result(campaign string, started time.Time, method string, iter int, mse float64) TunedResult {
	return TunedResult{
		RunID:           campaign + "-" + method + "-" + string(rune('0'+iter)),
		CampaignID:      campaign,
		CampaignStarted: started,
		Method:          method,
		Iteration:       iter,
		Seed:            int64(100 + iter),
		Gains:           pid.New(2, 0.1, 0.5),
		Cost:            mse,
		Performance: metrics.Performance{
			MSE:          mse,
			Overshoot:    4.5,
			SettlingTime: 12.25,
			GainMargin:   metrics.MarginCap,
			PhaseMargin:  61.2,
		},
		Evaluations: 1020,
		Elapsed:     1500 * time.Millisecond,
		Timestamp:   started.Add(time.Duration(iter) * time.Second),
	}
}

func TestNewStoreRejectsUnknownBackend(t *testing.T) {
	_, err := NewStore("badger", "x")
	require.Error(t, err)

	_, err = NewStore(BackendSQLite, "")
	require.Error(t, err)
}

func TestUninitializedStore(t *testing.T) {
	ctx := context.Background()
	for name, s := range map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(filepath.Join(t.TempDir(), "x.db")),
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.AppendResult(ctx, TunedResult{}), ErrNotInitialized)
			_, err := s.ResultsByMethod(ctx)
			assert.ErrorIs(t, err, ErrNotInitialized)
			assert.ErrorIs(t, s.Clear(ctx), ErrNotInitialized)
		})
	}
}

func TestResultsRoundTripAndOrder(t *testing.T) {
	ctx := context.Background()
	older, newer := epoch, epoch.Add(time.Hour)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.AppendResult(ctx, result("old", older, "GA", 0, 9)))
			require.NoError(t, s.AppendResult(ctx, result("new", newer, "GA", 1, 2)))
			require.NoError(t, s.AppendResult(ctx, result("new", newer, "GA", 0, 1)))
			require.NoError(t, s.AppendResult(ctx, result("new", newer, "PSO", 0, 3)))

			byMethod, err := s.ResultsByMethod(ctx)
			require.NoError(t, err)
			require.Len(t, byMethod, 2)

			ga := byMethod["GA"]
			require.Len(t, ga, 3)
			assert.Equal(t, "new", ga[0].CampaignID)
			assert.Equal(t, 0, ga[0].Iteration)
			assert.Equal(t, 1, ga[1].Iteration)
			assert.Equal(t, "old", ga[2].CampaignID)

			want := result("new", newer, "GA", 0, 1)
			assert.Equal(t, want, ga[0])
		})
	}
}

func TestLatestResult(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.LatestResult(ctx, "DE")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.AppendResult(ctx, result("c", epoch, "DE", 0, 5)))
			require.NoError(t, s.AppendResult(ctx, result("c", epoch, "DE", 3, 4)))
			require.NoError(t, s.AppendResult(ctx, result("c", epoch, "DE", 1, 6)))

			latest, ok, err := s.LatestResult(ctx, "DE")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 3, latest.Iteration)
		})
	}
}

func TestGenerationsByRun(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			recs := []GenerationRecord{
				{RunID: "r1", Method: "PSO", Generation: 1, Best: 2, Mean: 3, Worst: 4, Timestamp: epoch},
				{RunID: "r1", Method: "PSO", Generation: 0, Best: 5, Mean: 6, Worst: 7, Timestamp: epoch},
				{RunID: "r2", Method: "PSO", Generation: 0, Best: 1, Mean: 1, Worst: 1, Timestamp: epoch},
			}
			require.NoError(t, s.AppendGenerations(ctx, recs))
			require.NoError(t, s.AppendGenerations(ctx, nil))

			got, err := s.Generations(ctx, "r1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, 0, got[0].Generation)
			assert.Equal(t, recs[0], got[1])

			none, err := s.Generations(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestRobustnessAndClear(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			recs := []RobustnessRecord{
				{RunID: "r", CampaignID: "c", Method: "CMA-ES", Scenario: "Nominal", Gains: pid.New(1, 2, 3), MSE: 1, Timestamp: epoch},
				{RunID: "r", CampaignID: "c", Method: "CMA-ES", Scenario: "C2", Gains: pid.New(1, 2, 3), MSE: 1e6, Deviation: 1e8, Failed: true, Timestamp: epoch},
			}
			require.NoError(t, s.AppendRobustness(ctx, recs))
			require.NoError(t, s.AppendResult(ctx, result("c", epoch, "CMA-ES", 0, 1)))

			got, err := s.Robustness(ctx)
			require.NoError(t, err)
			assert.Equal(t, recs, got["CMA-ES"])

			require.NoError(t, s.Clear(ctx))
			got, err = s.Robustness(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)
			results, err := s.ResultsByMethod(ctx)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.AppendResult(ctx, result("c", epoch, "GA", i, float64(i))))
					assert.NoError(t, s.AppendGenerations(ctx, []GenerationRecord{{RunID: "run", Generation: i, Timestamp: epoch}}))
				}(i)
			}
			wg.Wait()

			byMethod, err := s.ResultsByMethod(ctx)
			require.NoError(t, err)
			assert.Len(t, byMethod["GA"], 8)
			gens, err := s.Generations(ctx, "run")
			require.NoError(t, err)
			assert.Len(t, gens, 8)
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pidtune.db")

	s := NewSQLiteStore(path)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.AppendResult(ctx, result("c", epoch, "ZN", 0, 7)))
	require.NoError(t, s.Close())

	reopened := NewSQLiteStore(path)
	require.NoError(t, reopened.Init(ctx))
	t.Cleanup(func() { _ = reopened.Close() })

	latest, ok, err := reopened.LatestResult(ctx, "ZN")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7.0, latest.Cost)
}

func TestWriteGenerationsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteGenerationsCSV(&buf, []GenerationRecord{
		{RunID: "r", Method: "GA", Iteration: 2, Generation: 1, Best: 0.5, Mean: 1.25, Worst: 3},
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "best", rows[0][4])
	assert.Equal(t, []string{"r", "GA", "2", "1", "0.500000", "1.250000", "3.000000"}, rows[1])
}

func TestWriteResultsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResultsCSV(&buf, []TunedResult{result("c", epoch, "GA", 0, 1)}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], len(rows[0]))
	assert.Equal(t, "2.000000", rows[1][4])
}

func TestExportRun(t *testing.T) {
	dir := t.TempDir()
	run := RunExport{
		Result:      result("c", epoch, "GA", 0, 1),
		Generations: []GenerationRecord{{RunID: "c-GA-0", Method: "GA", Generation: 1, Best: 1}},
	}

	jsonPath := filepath.Join(dir, "run.json")
	require.NoError(t, ExportRun(jsonPath, FormatJSON, run))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)

	var back RunExport
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, run.Result.Gains, back.Result.Gains)
	assert.Len(t, back.Generations, 1)

	csvPath := filepath.Join(dir, "run.csv")
	require.NoError(t, ExportRun(csvPath, FormatCSV, run))
	_, err = os.Stat(csvPath)
	require.NoError(t, err)

	badPath := filepath.Join(dir, "run.xml")
	require.Error(t, ExportRun(badPath, "xml", run))
	_, err = os.Stat(badPath)
	assert.True(t, os.IsNotExist(err))
}
