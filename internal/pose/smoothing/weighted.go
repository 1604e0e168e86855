package smoothing

import "gonum.org/v1/gonum/stat"

type point struct{ x, y float64 }

// weightedAverage returns the exponentially decayed mean of the window:
// the newest position has weight 1, each step back multiplies by decay.
// A decay of 1 gives the plain moving average.
func weightedAverage(window *ring[point], decay float64) (float64, float64) {
	n := window.len()
	xs := make([]float64, n)
	ys := make([]float64, n)
	ws := make([]float64, n)
	w := 1.0
	for i := 0; i < n; i++ {
		p := window.fromNewest(i)
		xs[i], ys[i], ws[i] = p.x, p.y, w
		w *= decay
	}
	return stat.Mean(xs, ws), stat.Mean(ys, ws)
}
