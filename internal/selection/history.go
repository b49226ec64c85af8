package selection

import (
	"sync"
	"time"

	"compass/internal/classifier"
	"compass/internal/registry"
)

// DefaultHistoryCapacity is used when no capacity is configured.
const DefaultHistoryCapacity = 32

// history is a fixed-size ring of summaries; appending to a full ring drops
// the oldest entry.
type history struct {
	mu    sync.Mutex
	buf   []Summary
	start int
	size  int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &history{buf: make([]Summary, capacity)}
}

func (h *history) append(s Summary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = s
		h.size++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// snapshot returns summaries oldest first.
func (h *history) snapshot() []Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Summary, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

func (h *history) capacity() int { return len(h.buf) }

// HistoryStats aggregates the retained history.
type HistoryStats struct {
	Count          int                       `json:"count"`
	Capacity       int                       `json:"capacity"`
	Total          uint64                    `json:"total"`
	Failures       uint64                    `json:"failures"`
	ByContext      map[registry.Context]int  `json:"by_context"`
	ByMethod       map[classifier.Method]int `json:"by_method"`
	MeanResolution time.Duration             `json:"mean_resolution_ns"`
	MaxResolution  time.Duration             `json:"max_resolution_ns"`
	MeanDirectives float64                   `json:"mean_directives"`
}

func aggregate(summaries []Summary, capacity int) HistoryStats {
	stats := HistoryStats{
		Count:     len(summaries),
		Capacity:  capacity,
		ByContext: make(map[registry.Context]int),
		ByMethod:  make(map[classifier.Method]int),
	}
	if len(summaries) == 0 {
		return stats
	}
	var total time.Duration
	var directives int
	for _, s := range summaries {
		d := time.Duration(s.ResolutionMicros) * time.Microsecond
		total += d
		if d > stats.MaxResolution {
			stats.MaxResolution = d
		}
		directives += s.DirectiveCount
		stats.ByContext[s.Context]++
		stats.ByMethod[s.Method]++
	}
	stats.MeanResolution = total / time.Duration(len(summaries))
	stats.MeanDirectives = float64(directives) / float64(len(summaries))
	return stats
}
