package control

import (
	"math"
	"sort"
)

// maxHistogramValues caps each histogram; the aggregation tick rotates
// older samples out so hot operations cannot grow without bound.
const maxHistogramValues = 1000

// histogram is an append-only value list owned by the aggregator.
// Not safe for concurrent use; the aggregator serializes access.
type histogram struct {
	values []float64
	sum    float64
	count  int
}

func (h *histogram) observe(v float64) {
	h.values = append(h.values, v)
	h.sum += v
	h.count++
}

// rotate keeps only the newest max values. Sum tracks the retained
// window so exported averages stay consistent with the percentiles.
func (h *histogram) rotate(max int) {
	if len(h.values) <= max {
		return
	}
	drop := h.values[:len(h.values)-max]
	for _, v := range drop {
		h.sum -= v
	}
	h.values = append([]float64(nil), h.values[len(h.values)-max:]...)
	h.count = len(h.values)
}

// percentile returns the p-th percentile (0 < p <= 1) of the histogram.
// The value is the element at index ceil(n*p)-1 of a sorted copy,
// clamped to the valid range. An empty histogram yields 0.
func (h *histogram) percentile(p float64) float64 {
	n := len(h.values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, h.values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func (h *histogram) min() float64 {
	if len(h.values) == 0 {
		return 0
	}
	m := h.values[0]
	for _, v := range h.values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func (h *histogram) max() float64 {
	if len(h.values) == 0 {
		return 0
	}
	m := h.values[0]
	for _, v := range h.values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
