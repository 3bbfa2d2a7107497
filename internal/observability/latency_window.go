package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

type LatencyStats struct {
	Kind        string  `json:"kind"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

type StaleCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// LatencySnapshot is served by /v1/perf/latency.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Kinds       []LatencyStats `json:"kinds"`
	StaleFires  []StaleCount   `json:"stale_fires,omitempty"`
}

// latencyWindow keeps the last size generation latencies of each
// notification kind, plus running stale fire counts.
type latencyWindow struct {
	mu      sync.Mutex
	size    int
	samples map[string][]float64
	stale   map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:    size,
		samples: make(map[string][]float64),
		stale:   make(map[string]int),
	}
}

func (w *latencyWindow) Observe(kind string, ms float64) {
	if kind == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[kind], ms)
	if len(s) > w.size {
		s = s[len(s)-w.size:]
	}
	w.samples[kind] = s
}

func (w *latencyWindow) ObserveStale(kind string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stale[kind]++
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{GeneratedAt: time.Now().UTC(), WindowSize: w.size, Kinds: []LatencyStats{}}
	for _, kind := range sortedKeys(w.samples) {
		recent := w.samples[kind]
		sorted := slices.Clone(recent)
		slices.Sort(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		st := LatencyStats{
			Kind:        kind,
			Samples:     len(sorted),
			LastMS:      recent[len(recent)-1],
			AvgMS:       math.Round(sum / float64(len(sorted))),
			P50MS:       nearestRank(sorted, 0.50),
			P95MS:       nearestRank(sorted, 0.95),
			P99MS:       nearestRank(sorted, 0.99),
			TargetP95MS: targetP95MS(kind),
		}
		st.OverTarget = st.TargetP95MS > 0 && st.P95MS > st.TargetP95MS
		snap.Kinds = append(snap.Kinds, st)
	}
	for _, kind := range sortedKeys(w.stale) {
		snap.StaleFires = append(snap.StaleFires, StaleCount{Kind: kind, Count: w.stale[kind]})
	}
	return snap
}

// nearestRank expects sorted to be non-empty and ascending.
func nearestRank(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q * float64(len(sorted))))
	return sorted[max(rank, 1)-1]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Start and reminder lines are on the user's critical path; replies to an
// outcome can take a little longer.
func targetP95MS(kind string) float64 {
	switch kind {
	case "start", "extend":
		return 4000
	case "reminder":
		return 8000
	case "congratulate", "console", "reaction", "abandon":
		return 6000
	default:
		return 0
	}
}
