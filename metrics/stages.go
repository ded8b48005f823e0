// Package metrics aggregates per-stage timings of a batch run.
package metrics

import (
	"sync"
	"time"
)

// StageStats summarises one stage across all items of a run.
type StageStats struct {
	Stage    string
	Count    int64
	Failures int64
	Total    time.Duration
	Min      time.Duration
	Max      time.Duration
}

// Avg returns the mean duration, or zero when nothing was recorded.
func (s StageStats) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// SuccessRate returns the share of successful attempts in percent.
func (s StageStats) SuccessRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Count-s.Failures) / float64(s.Count) * 100
}

// StageStore is an in-memory StageStats aggregation, safe for concurrent
// use by the batch workers.
//
// Usage:
//
//	store := metrics.NewStageStore()
//	outcome, err := coordinator.Run(ctx, items, batch.Options{Recorder: store})
//	for _, s := range store.Snapshot() {
//	    fmt.Println(s.Stage, s.Avg())
//	}
type StageStore struct {
	mu     sync.Mutex
	order  []string
	stages map[string]*StageStats
}

// NewStageStore creates an empty store.
func NewStageStore() *StageStore {
	return &StageStore{stages: make(map[string]*StageStats)}
}

// RecordStage adds one attempt of stage.
func (s *StageStore) RecordStage(stage string, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stages[stage]
	if !ok {
		st = &StageStats{Stage: stage, Min: d}
		s.stages[stage] = st
		s.order = append(s.order, stage)
	}
	st.Count++
	if err != nil {
		st.Failures++
	}
	st.Total += d
	if d < st.Min {
		st.Min = d
	}
	if d > st.Max {
		st.Max = d
	}
}

// Snapshot returns a copy of the stats in the order stages were first seen.
func (s *StageStore) Snapshot() []StageStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StageStats, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.stages[name])
	}
	return out
}

// Reset clears all recorded stats.
func (s *StageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.stages = make(map[string]*StageStats)
}
