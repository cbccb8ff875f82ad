package stats

import (
	"errors"
	"math"
)

var (
	// ErrInvalidWindow is returned when a window of zero or less is requested.
	ErrInvalidWindow = errors.New("stats: window must be greater than 0")
	// ErrEmpty is returned by Mean on an empty window.
	ErrEmpty = errors.New("stats: empty window")
	// ErrInsufficientSamples is returned by StdDev with fewer than two samples.
	ErrInsufficientSamples = errors.New("stats: need at least 2 samples")
)

// Rolling keeps a fixed-size window of samples with running sum and sum of
// squares so mean and standard deviation are O(1).
// It is not safe for concurrent use.
type Rolling struct {
	buf    []float64 // ring buffer, len == window
	head   int       // index of the oldest sample
	size   int
	window int
	sum    float64
	sumSq  float64
}

// NewRolling creates a window of the given capacity.
func NewRolling(window int) (*Rolling, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	return &Rolling{
		buf:    make([]float64, window),
		window: window,
	}, nil
}

// Add pushes x, evicting the oldest sample once the window is full.
func (r *Rolling) Add(x float64) {
	if r.size == r.window {
		old := r.buf[r.head]
		r.sum -= old
		r.sumSq -= old * old
		r.buf[r.head] = x
		r.head = (r.head + 1) % r.window
	} else {
		r.buf[(r.head+r.size)%r.window] = x
		r.size++
	}
	r.sum += x
	r.sumSq += x * x
}

// Ready reports whether the window is full.
func (r *Rolling) Ready() bool {
	return r.size == r.window
}

// Len returns the number of samples currently held.
func (r *Rolling) Len() int {
	return r.size
}

// Window returns the configured capacity.
func (r *Rolling) Window() int {
	return r.window
}

// Mean returns the average of the current samples.
func (r *Rolling) Mean() (float64, error) {
	if r.size == 0 {
		return 0, ErrEmpty
	}
	return r.sum / float64(r.size), nil
}

// StdDev returns the population standard deviation of the current samples.
// Variance is clamped at 0 to absorb floating-point cancellation.
func (r *Rolling) StdDev() (float64, error) {
	if r.size < 2 {
		return 0, ErrInsufficientSamples
	}
	n := float64(r.size)
	mean := r.sum / n
	variance := r.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance), nil
}

// Values returns the samples oldest first.
func (r *Rolling) Values() []float64 {
	out := make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%r.window]
	}
	return out
}

// Clear drops all samples.
func (r *Rolling) Clear() {
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.head = 0
	r.size = 0
	r.sum = 0
	r.sumSq = 0
}
