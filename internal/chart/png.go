package chart

import (
	"fmt"
	"io"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/verte-zerg/truebpm/internal/model"
)

var (
	stopColor = drawing.Color{R: 180, G: 47, B: 196, A: 255}
	bpmColor  = drawing.Color{R: 79, G: 178, B: 195, A: 255}
)

// RenderPNG writes data as a PNG line chart: BPM as a stepped line on the left axis,
// stops as points on the right axis.
func RenderPNG(w io.Writer, title string, data model.ChartData, width, height int) error {
	if data.Empty() {
		return fmt.Errorf("no chart data to render")
	}
	bpmX, bpmY := stepCoordinates(data.BPM)
	bpmRange := rangeOf(data.BPM).scaled()

	series := []gochart.Series{
		gochart.ContinuousSeries{
			Name:    "BPM",
			XValues: bpmX,
			YValues: bpmY,
			Style: gochart.Style{
				StrokeColor: bpmColor,
				StrokeWidth: 2,
			},
		},
	}

	ch := gochart.Chart{
		Title:      title,
		Width:      width,
		Height:     height,
		Background: gochart.Style{Padding: gochart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      gochart.XAxis{Name: xAxisName},
		YAxis: gochart.YAxis{
			Name:  "BPM",
			Range: &gochart.ContinuousRange{Min: bpmRange.min, Max: bpmRange.max},
		},
	}

	stopX, stopY := stopPoints(data)
	if len(stopX) > 0 {
		series = append(series, gochart.ContinuousSeries{
			Name:    "Stops",
			XValues: stopX,
			YValues: stopY,
			YAxis:   gochart.YAxisSecondary,
			Style: gochart.Style{
				StrokeColor: drawing.ColorTransparent,
				DotWidth:    4,
				DotColor:    stopColor,
			},
		})
		ch.YAxisSecondary = gochart.YAxis{
			Name:  "Stops",
			Range: &gochart.ContinuousRange{Min: 0, Max: maxOf(stopY)},
		}
	}
	ch.Series = series
	ch.Elements = []gochart.Renderable{gochart.Legend(&ch)}

	if err := ch.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// stepCoordinates expands per-measure values into a step line: each value spans
// [i, i+1).
func stepCoordinates(values []float64) ([]float64, []float64) {
	xs := make([]float64, 0, len(values)*2)
	ys := make([]float64, 0, len(values)*2)
	for i, v := range values {
		xs = append(xs, float64(i), float64(i+1))
		ys = append(ys, v, v)
	}
	return xs, ys
}

func stopPoints(data model.ChartData) ([]float64, []float64) {
	var xs, ys []float64
	for i, v := range data.Stops {
		if v <= 0 {
			continue
		}
		xs = append(xs, float64(data.Labels[i]))
		ys = append(ys, v)
	}
	return xs, ys
}
