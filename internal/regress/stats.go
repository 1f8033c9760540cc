package regress

import "math"

// Mean returns the arithmetic mean, or NaN for no values.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// SampleStd returns the n-1 corrected standard deviation, or NaN when fewer
// than two values are given.
func SampleStd(v []float64) float64 {
	if len(v) < 2 {
		return math.NaN()
	}
	m := Mean(v)
	var ss float64
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(v)-1))
}

// RMSE returns the root mean squared error between y and pred. It is 0 for
// no samples.
func RMSE(y, pred []float64) float64 {
	n := len(y)
	if len(pred) < n {
		n = len(pred)
	}
	if n == 0 {
		return 0
	}
	var ss float64
	for i := 0; i < n; i++ {
		d := y[i] - pred[i]
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}
