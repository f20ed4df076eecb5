package calibrate

import (
	"image/color"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotViewErrors saves a bar chart of the per view reprojection errors of r to path, with the
// overall RMS as a horizontal line. The format follows the extension of path (png, svg, pdf...).
func PlotViewErrors(r *Result, path string) error {
	if len(r.PerViewErrors) == 0 {
		return errors.New("result has no per view errors")
	}
	p := plot.New()
	p.Title.Text = "Reprojection error per view"
	p.X.Label.Text = "view"
	p.Y.Label.Text = "RMS error (px)"

	bars, err := plotter.NewBarChart(plotter.Values(r.PerViewErrors), vg.Points(12))
	if err != nil {
		return err
	}
	bars.Color = color.NRGBA{R: 66, G: 133, B: 244, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)

	rms := plotter.NewFunction(func(float64) float64 { return r.RMS })
	rms.Color = color.NRGBA{R: 219, G: 68, B: 55, A: 255}
	rms.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(rms)
	p.Legend.Add("overall", rms)
	p.Legend.Top = true

	names := r.Views
	if len(names) != len(r.PerViewErrors) {
		names = nil
		for i := range r.PerViewErrors {
			names = append(names, strconv.Itoa(i))
		}
	}
	p.NominalX(names...)

	width := vg.Length(len(r.PerViewErrors))*vg.Points(20) + 2*vg.Inch
	return p.Save(width, 3*vg.Inch, path)
}
