package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func directMeanStd(values []float64) (float64, float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

func TestNewRollingRejectsZeroWindow(t *testing.T) {
	r, err := NewRolling(0)
	require.ErrorIs(t, err, ErrInvalidWindow)
	assert.Nil(t, r)

	_, err = NewRolling(-3)
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestRollingMatchesDirectRecomputation(t *testing.T) {
	for _, window := range []int{1, 2, 5, 20} {
		r, err := NewRolling(window)
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(int64(window)))
		var all []float64
		for i := 0; i < 500; i++ {
			x := rng.Float64()*200 - 100
			all = append(all, x)
			r.Add(x)

			if len(all) < window {
				assert.False(t, r.Ready(), "window=%d after %d pushes", window, len(all))
				continue
			}
			require.True(t, r.Ready())

			tail := all[len(all)-window:]
			wantMean, wantStd := directMeanStd(tail)

			mean, err := r.Mean()
			require.NoError(t, err)
			assert.InDelta(t, wantMean, mean, 1e-9)

			if window >= 2 {
				std, err := r.StdDev()
				require.NoError(t, err)
				assert.InDelta(t, wantStd, std, 1e-9)
			}
			assert.Equal(t, tail, r.Values())
		}
	}
}

func TestRollingEmptyAndShortWindow(t *testing.T) {
	r, err := NewRolling(3)
	require.NoError(t, err)

	_, err = r.Mean()
	require.ErrorIs(t, err, ErrEmpty)
	_, err = r.StdDev()
	require.ErrorIs(t, err, ErrInsufficientSamples)

	r.Add(4)
	mean, err := r.Mean()
	require.NoError(t, err)
	assert.Equal(t, 4.0, mean)
	_, err = r.StdDev()
	require.ErrorIs(t, err, ErrInsufficientSamples)

	r.Add(6)
	std, err := r.StdDev()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, std, 1e-12)
	assert.False(t, r.Ready())
	assert.Equal(t, 2, r.Len())
}

func TestRollingStdDevClampsNegativeVariance(t *testing.T) {
	r, err := NewRolling(4)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		r.Add(1e8 + 0.1)
	}
	std, err := r.StdDev()
	require.NoError(t, err)
	assert.False(t, math.IsNaN(std))
	assert.GreaterOrEqual(t, std, 0.0)
}

func TestRollingClear(t *testing.T) {
	r, err := NewRolling(2)
	require.NoError(t, err)
	r.Add(1)
	r.Add(2)
	r.Add(3)
	require.True(t, r.Ready())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Ready())
	_, err = r.Mean()
	require.ErrorIs(t, err, ErrEmpty)

	r.Add(10)
	r.Add(20)
	mean, err := r.Mean()
	require.NoError(t, err)
	assert.Equal(t, 15.0, mean)
	assert.Equal(t, 2, r.Window())
}
