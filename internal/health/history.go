// Package health keeps a rolling window of agent health samples and
// derives the smoothed fitness score used by the orchestrator.
package health

import "sync"

const (
	DefaultWindow  = 10
	DefaultInitial = 1.0
	DefaultAlpha   = 0.1
)

// History is a fixed-capacity sliding window of health samples.
// Samples are kept oldest first. Safe for concurrent use.
type History struct {
	mu     sync.Mutex
	size   int
	scores []float64
}

// NewHistory creates a window of the given size pre-filled with initial.
// A size <= 0 uses DefaultWindow.
func NewHistory(size int, initial float64) *History {
	if size <= 0 {
		size = DefaultWindow
	}
	scores := make([]float64, size)
	for i := range scores {
		scores[i] = initial
	}
	return &History{size: size, scores: scores}
}

// Size returns the window capacity.
func (h *History) Size() int { return h.size }

// AddScore appends s, evicting the oldest sample when the window is full.
func (h *History) AddScore(s float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.scores) >= h.size {
		copy(h.scores, h.scores[1:])
		h.scores = h.scores[:len(h.scores)-1]
	}
	h.scores = append(h.scores, s)
}

// Average returns the arithmetic mean of the window, or 0 when empty.
func (h *History) Average() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range h.scores {
		sum += s
	}
	return sum / float64(len(h.scores))
}

// EWMA seeds with the oldest sample and folds forward through the rest:
// ewma = alpha*score + (1-alpha)*ewma. Returns 0 when empty.
func (h *History) EWMA(alpha float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.scores) == 0 {
		return 0
	}
	ewma := h.scores[0]
	for _, s := range h.scores[1:] {
		ewma = alpha*s + (1-alpha)*ewma
	}
	return ewma
}

// Scores returns a copy of the window, oldest first.
func (h *History) Scores() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]float64, len(h.scores))
	copy(out, h.scores)
	return out
}

// Restore replaces the window contents. Only the newest Size() samples are kept.
// Passing an empty slice leaves the window empty.
func (h *History) Restore(scores []float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(scores) > h.size {
		scores = scores[len(scores)-h.size:]
	}
	h.scores = make([]float64, len(scores), h.size)
	copy(h.scores, scores)
}
