package metrics

import "sync"

// WelfordMean is a concurrency-safe online mean accumulator. A naive
// `avg = (sum_of_n + x) / 2` running average is arithmetically wrong
// for n > 2, so every running average in this package uses Welford's
// algorithm instead of an unbounded sum.
type WelfordMean struct {
	mu    sync.Mutex
	count int64
	mean  float64
}

// Add folds a new observation into the running mean.
func (w *WelfordMean) Add(value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
	w.mean += (value - w.mean) / float64(w.count)
}

// Mean returns the current running mean, or 0 if no samples were added.
func (w *WelfordMean) Mean() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mean
}

// Count returns the number of observations folded in so far.
func (w *WelfordMean) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
