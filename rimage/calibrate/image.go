package calibrate

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/montanaflynn/stats"

	"github.com/GiovanniPag/pyNect/rimage"
)

// floatImage is a single channel image with bilinear sampling, used by the detector and the
// sub-pixel refinement.
type floatImage struct {
	width, height int
	data          []float64
}

func newFloatImage(gray *image.Gray) *floatImage {
	b := gray.Bounds()
	return &floatImage{width: b.Dx(), height: b.Dy(), data: rimage.GrayToFloat64(gray)}
}

func (f *floatImage) at(x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= f.width {
		x = f.width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= f.height {
		y = f.height - 1
	}
	return f.data[y*f.width+x]
}

// sample reads the image at a sub-pixel position, replicating the border.
func (f *floatImage) sample(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	ax, ay := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	top := f.at(ix, iy)*(1-ax) + f.at(ix+1, iy)*ax
	bottom := f.at(ix, iy+1)*(1-ax) + f.at(ix+1, iy+1)*ax
	return top*(1-ay) + bottom*ay
}

// stretch maps the 2nd and 98th percentiles of the intensities onto [0, 1] and clamps the rest,
// so the detector threshold does not depend on exposure.
func (f *floatImage) stretch() {
	lo, err := stats.Percentile(f.data, 2)
	if err != nil {
		return
	}
	hi, err := stats.Percentile(f.data, 98)
	if err != nil || hi-lo < 1e-9 {
		return
	}
	scale := 1 / (hi - lo)
	for i, v := range f.data {
		f.data[i] = math.Max(0, math.Min(1, (v-lo)*scale))
	}
}

// blurGray smooths a gray image with a gaussian of the given sigma.
func blurGray(gray *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return gray
	}
	return rimage.ToGray(imaging.Blur(gray, sigma))
}
