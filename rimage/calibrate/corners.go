package calibrate

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Corner refers to a point on an image with a corner value=R.
type Corner struct {
	X float64
	Y float64
	R float64 // Cornerness
}

// Point returns the corner location.
func (c Corner) Point() r2.Point {
	return r2.Point{X: c.X, Y: c.Y}
}

// A Detector finds the inner corners of a chessboard pattern. On success it returns exactly
// p.Size() corners ordered row by row, matching Pattern.ObjectPoints.
type Detector interface {
	FindCorners(gray *image.Gray, p Pattern) ([]r2.Point, error)
}

// ChessboardDetector finds chessboard corners by looking for X junctions: on a ring around a
// corner the intensity alternates dark, light, dark, light.
type ChessboardDetector struct {
	// Radius of the sampling ring in pixels. Squares must be wider than the ring.
	Radius float64
	// Sigma of the gaussian applied before sampling.
	Blur float64
	// Candidates weaker than Threshold times the strongest response are dropped.
	Threshold float64
}

// NewChessboardDetector returns a detector with defaults suited to squares of 10 pixels and up.
func NewChessboardDetector() *ChessboardDetector {
	return &ChessboardDetector{Radius: 4, Blur: 0.8, Threshold: 0.25}
}

const ringSamples = 16

// FindCorners implements Detector.
func (d *ChessboardDetector) FindCorners(gray *image.Gray, p Pattern) ([]r2.Point, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	img := newFloatImage(blurGray(gray, d.Blur))
	img.stretch()

	candidates := d.candidates(img)
	if len(candidates) < p.Size() {
		return nil, errors.Wrapf(ErrPatternNotFound, "found %d corner candidates, need %d", len(candidates), p.Size())
	}
	grid, err := orderGrid(candidates, p)
	if err != nil {
		return nil, err
	}
	return grid, nil
}

// response computes the X junction score at (x, y). Opposite ring samples of a junction agree
// while samples a quarter turn apart differ. Edges and blobs score negative.
func (d *ChessboardDetector) response(img *floatImage, x, y float64, ring []r2.Point) float64 {
	var s [ringSamples]float64
	mean := 0.
	for i, off := range ring {
		s[i] = img.sample(x+off.X, y+off.Y)
		mean += s[i]
	}
	mean /= ringSamples

	sum, diff := 0., 0.
	for i := 0; i < ringSamples/4; i++ {
		sum += math.Abs(s[i] + s[i+8] - s[i+4] - s[i+12])
	}
	for i := 0; i < ringSamples/2; i++ {
		diff += math.Abs(s[i] - s[i+8])
	}
	local := (img.sample(x, y) + img.sample(x-1, y) + img.sample(x+1, y) + img.sample(x, y-1) + img.sample(x, y+1)) / 5
	return sum - diff - ringSamples/4*math.Abs(mean-local)
}

func (d *ChessboardDetector) ring() []r2.Point {
	ring := make([]r2.Point, ringSamples)
	for i := range ring {
		a := 2 * math.Pi * float64(i) / ringSamples
		ring[i] = r2.Point{X: d.Radius * math.Cos(a), Y: d.Radius * math.Sin(a)}
	}
	return ring
}

// candidates scores every pixel, keeps local maxima above the adaptive threshold and refines
// each to the centroid of the response around it.
func (d *ChessboardDetector) candidates(img *floatImage) []Corner {
	ring := d.ring()
	margin := int(math.Ceil(d.Radius)) + 1
	w, h := img.width, img.height
	if w <= 2*margin || h <= 2*margin {
		return nil
	}
	resp := make([]float64, w*h)
	maxR := 0.
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			r := d.response(img, float64(x), float64(y), ring)
			if r > 0 {
				resp[y*w+x] = r
				if r > maxR {
					maxR = r
				}
			}
		}
	}
	if maxR == 0 {
		return nil
	}
	thresh := d.Threshold * maxR

	suppress := int(math.Ceil(d.Radius))
	var list []Corner
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			r := resp[y*w+x]
			if r <= thresh || !isLocalMax(resp, w, h, x, y, suppress) {
				continue
			}
			list = append(list, centroid(resp, w, h, x, y))
		}
	}
	return list
}

func isLocalMax(resp []float64, w, h, x, y, radius int) bool {
	r := resp[y*w+x]
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			xx, yy := x+dx, y+dy
			if (dx == 0 && dy == 0) || xx < 0 || yy < 0 || xx >= w || yy >= h {
				continue
			}
			v := resp[yy*w+xx]
			// ties resolve to the first pixel in scan order
			if v > r || (v == r && (dy < 0 || (dy == 0 && dx < 0))) {
				return false
			}
		}
	}
	return true
}

func centroid(resp []float64, w, h, x, y int) Corner {
	sum, sx, sy := 0., 0., 0.
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			xx, yy := x+dx, y+dy
			if xx < 0 || yy < 0 || xx >= w || yy >= h {
				continue
			}
			v := resp[yy*w+xx]
			sum += v
			sx += v * float64(xx)
			sy += v * float64(yy)
		}
	}
	return Corner{X: sx / sum, Y: sy / sum, R: resp[y*w+x]}
}

// SortCornerListByR sorts corners such that the highest R value (most corner-y) is first.
func SortCornerListByR(list []Corner) []Corner {
	sort.SliceStable(list, func(i, j int) bool { return list[i].R > list[j].R })
	return list
}

// NormalizeCorners takes in a list of corners and returns a list of corners such that the output list
// has x and y values that are (x - xmean)/std(x).
func NormalizeCorners(corners []Corner) []Corner {
	if len(corners) <= 1 {
		return corners
	}
	xSlice := make([]float64, len(corners))
	ySlice := make([]float64, len(corners))
	for i, c := range corners {
		xSlice[i] = c.X
		ySlice[i] = c.Y
	}

	xMean, err := stats.Mean(xSlice)
	yMean, err2 := stats.Mean(ySlice)
	sdX, err3 := stats.StandardDeviation(xSlice)
	sdY, err4 := stats.StandardDeviation(ySlice)
	if (err != nil) || (err2 != nil) || (err3 != nil) || (err4 != nil) || sdX == 0 || sdY == 0 {
		return nil
	}

	out := make([]Corner, len(corners))
	for i, c := range corners {
		out[i] = Corner{X: (c.X - xMean) / sdX, Y: (c.Y - yMean) / sdY, R: c.R}
	}
	return out
}
