// Package chart turns chart results into render-ready data and renders it.
package chart

import (
	"fmt"

	"github.com/verte-zerg/truebpm/internal/apperrors"
	"github.com/verte-zerg/truebpm/internal/model"
)

// FromResult builds chart data from a result. The returned slices are fresh copies.
func FromResult(res model.ChartResult) (model.ChartData, error) {
	n := res.NumberOfMeasures
	if n < 0 {
		return model.ChartData{}, fmt.Errorf("%w: negative measure count %d", apperrors.ErrChartUnavailable, n)
	}
	if len(res.Stops) != n || len(res.BPM) != n {
		return model.ChartData{}, fmt.Errorf("%w: %d measures but %d stops and %d bpm values",
			apperrors.ErrChartUnavailable, n, len(res.Stops), len(res.BPM))
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}
	return model.ChartData{
		Labels: labels,
		Stops:  append(make([]float64, 0, n), res.Stops...),
		BPM:    append(make([]float64, 0, n), res.BPM...),
	}, nil
}

// Empty returns chart data with no measures.
func Empty() model.ChartData {
	return model.ChartData{Labels: []int{}, Stops: []float64{}, BPM: []float64{}}
}
