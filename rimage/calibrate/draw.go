package calibrate

import (
	"image"
	"image/color"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/GiovanniPag/pyNect/rimage"
)

// DrawCorners overlays the detected corners on img: every row of the pattern gets its own hue,
// consecutive corners are joined and each corner is numbered by its index.
func DrawCorners(img image.Image, corners []r2.Point, p Pattern) image.Image {
	dc := gg.NewContextForImage(img)
	rows := p.Rows
	if rows <= 0 || len(corners) != p.Size() {
		rows = 1
	}
	perRow := len(corners) / rows
	if perRow == 0 {
		return dc.Image()
	}

	xs := make([]float64, len(corners))
	ys := make([]float64, len(corners))
	for i, c := range corners {
		xs[i], ys[i] = c.X, c.Y
	}
	rimage.DrawPolyline(dc, xs, ys, color.NRGBA{R: 128, G: 128, B: 128, A: 255}, 1)

	for i, c := range corners {
		row := i / perRow
		hue := 360 * float64(row) / float64(rows)
		col := colorful.Hsv(hue, 1, 1)
		rimage.DrawCircle(dc, c.X, c.Y, 4, col, 2)
		rimage.DrawString(dc, strconv.Itoa(i), image.Point{X: int(c.X) + 5, Y: int(c.Y) - 5}, col, 10)
	}
	return dc.Image()
}
