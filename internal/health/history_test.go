package health

import (
	"math"
	"sync"
	"testing"
)

const eps = 1e-5

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

func TestDefaultWindowEWMA(t *testing.T) {
	h := NewHistory(0, DefaultInitial)
	if h.Size() != DefaultWindow {
		t.Fatalf("Size = %d, want %d", h.Size(), DefaultWindow)
	}
	for _, alpha := range []float64{0.001, 0.1, 0.5, 0.999} {
		if got := h.EWMA(alpha); got != 1.0 {
			t.Errorf("EWMA(%v) = %v, want exactly 1.0", alpha, got)
		}
	}
	if got := h.Average(); got != 1.0 {
		t.Errorf("Average = %v, want 1.0", got)
	}
}

func TestEWMASeededWithOldest(t *testing.T) {
	h := NewHistory(3, 0)
	h.Restore([]float64{1.0, -0.5, -1.0})
	if got := h.EWMA(0.1); !approx(got, 0.665) {
		t.Errorf("EWMA = %v, want 0.665", got)
	}
}

func TestEWMASlidingWindow(t *testing.T) {
	h := NewHistory(5, DefaultInitial)
	for _, s := range []float64{0.8, 0.9, 0.5, 0.2, 0.7} {
		h.AddScore(s)
	}
	if got := h.EWMA(0.2); !approx(got, 0.65584) {
		t.Errorf("EWMA = %v, want 0.65584", got)
	}
}

func TestEWMAExtremeAlphas(t *testing.T) {
	h := NewHistory(3, DefaultInitial)
	for _, s := range []float64{1, 0.5, 0} {
		h.AddScore(s)
	}
	// [1, 0.5, 0]: near-zero alpha stays close to the oldest sample,
	// near-one alpha tracks the newest.
	if got := h.EWMA(0.001); !approx(got, 0.9985005) {
		t.Errorf("EWMA(0.001) = %v, want 0.9985005", got)
	}
	if got := h.EWMA(0.999); !approx(got, 0.0005005) {
		t.Errorf("EWMA(0.999) = %v, want 0.0005005", got)
	}
}

func TestEmptyWindowReturnsZero(t *testing.T) {
	h := NewHistory(4, DefaultInitial)
	h.Restore(nil)
	if got := h.EWMA(0.1); got != 0 {
		t.Errorf("EWMA on empty = %v, want 0", got)
	}
	if got := h.Average(); got != 0 {
		t.Errorf("Average on empty = %v, want 0", got)
	}
}

func TestAddScoreEvictsOldest(t *testing.T) {
	h := NewHistory(3, 1.0)
	h.AddScore(0.1)
	h.AddScore(0.2)
	h.AddScore(0.3)
	h.AddScore(0.4)

	got := h.Scores()
	want := []float64{0.2, 0.3, 0.4}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scores[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if avg := h.Average(); !approx(avg, 0.3) {
		t.Errorf("Average = %v, want 0.3", avg)
	}
}

func TestRestoreTrimsToSize(t *testing.T) {
	h := NewHistory(2, 1.0)
	h.Restore([]float64{0.1, 0.2, 0.3})
	got := h.Scores()
	if len(got) != 2 || got[0] != 0.2 || got[1] != 0.3 {
		t.Errorf("Scores = %v, want [0.2 0.3]", got)
	}
	// Window grows back to capacity after a partial restore.
	h.Restore([]float64{0.5})
	h.AddScore(0.6)
	if got := h.Scores(); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestConcurrentSampling(t *testing.T) {
	h := NewHistory(10, 1.0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.AddScore(0.5)
				_ = h.EWMA(DefaultAlpha)
			}
		}()
	}
	wg.Wait()
	if got := h.Average(); got != 0.5 {
		t.Errorf("Average = %v, want 0.5", got)
	}
}
