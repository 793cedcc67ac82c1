package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process. It is the default for one-shot
// campaigns and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	generations []GenerationRecord
	results     []TunedResult
	robustness  []RobustnessRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	return nil
}

func (s *MemoryStore) AppendGenerations(_ context.Context, records []GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.generations = append(s.generations, records...)
	return nil
}

func (s *MemoryStore) AppendResult(_ context.Context, r TunedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.results = append(s.results, r)
	return nil
}

func (s *MemoryStore) AppendRobustness(_ context.Context, records []RobustnessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.robustness = append(s.robustness, records...)
	return nil
}

func (s *MemoryStore) ResultsByMethod(_ context.Context) (map[string][]TunedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make(map[string][]TunedResult)
	for _, r := range s.results {
		out[r.Method] = append(out[r.Method], r)
	}
	for _, rs := range out {
		sort.SliceStable(rs, func(i, j int) bool { return newer(rs[i], rs[j]) })
	}
	return out, nil
}

func (s *MemoryStore) LatestResult(_ context.Context, method string) (TunedResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return TunedResult{}, false, ErrNotInitialized
	}
	var (
		latest TunedResult
		found  bool
	)
	for _, r := range s.results {
		if r.Method != method {
			continue
		}
		if !found || !r.Timestamp.Before(latest.Timestamp) {
			latest, found = r, true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) Generations(_ context.Context, runID string) ([]GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	var out []GenerationRecord
	for _, g := range s.generations {
		if g.RunID == runID {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out, nil
}

func (s *MemoryStore) Robustness(_ context.Context) (map[string][]RobustnessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make(map[string][]RobustnessRecord)
	for _, r := range s.robustness {
		out[r.Method] = append(out[r.Method], r)
	}
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.generations, s.results, s.robustness = nil, nil, nil
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
