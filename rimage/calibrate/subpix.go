package calibrate

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// CornerSubPix refines corner locations in place. For a true corner q every image gradient g at
// a nearby point p is orthogonal to p - q, so q solves sum(g g^T) q = sum(g g^T p) over the
// window, weighted by a gaussian. win is the half size of the search window; pixels closer than
// zeroZone to the center are ignored (a negative zeroZone disables this). A corner that drifts
// further than win from where it started keeps its original location.
func CornerSubPix(gray *image.Gray, corners []r2.Point, win, zeroZone int, criteria TermCriteria) []r2.Point {
	img := newFloatImage(gray)
	maxIter := criteria.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}
	eps := criteria.Epsilon * criteria.Epsilon

	// gaussian weights over the window, OpenCV style
	size := 2*win + 1
	mask := make([]float64, size*size)
	for y := -win; y <= win; y++ {
		for x := -win; x <= win; x++ {
			fx, fy := float64(x)/float64(win), float64(y)/float64(win)
			w := math.Exp(-fx*fx) * math.Exp(-fy*fy)
			if zeroZone >= 0 && abs(x) <= zeroZone && abs(y) <= zeroZone {
				w = 0
			}
			mask[(y+win)*size+x+win] = w
		}
	}

	for k, start := range corners {
		cur := start
		for iter := 0; iter < maxIter; iter++ {
			var a, b, c, bb1, bb2 float64
			for y := -win; y <= win; y++ {
				for x := -win; x <= win; x++ {
					m := mask[(y+win)*size+x+win]
					if m == 0 {
						continue
					}
					px, py := cur.X+float64(x), cur.Y+float64(y)
					gx := (img.sample(px+1, py) - img.sample(px-1, py)) / 2
					gy := (img.sample(px, py+1) - img.sample(px, py-1)) / 2
					gxx, gxy, gyy := gx*gx*m, gx*gy*m, gy*gy*m
					a += gxx
					b += gxy
					c += gyy
					bb1 += gxx*float64(x) + gxy*float64(y)
					bb2 += gxy*float64(x) + gyy*float64(y)
				}
			}
			det := a*c - b*b
			if math.Abs(det) <= math.SmallestNonzeroFloat64 {
				break
			}
			// solve relative to the current estimate to keep the sums small
			next := r2.Point{
				X: cur.X + (c*bb1-b*bb2)/det,
				Y: cur.Y + (a*bb2-b*bb1)/det,
			}
			moved := next.Sub(cur)
			cur = next
			if moved.Dot(moved) <= eps {
				break
			}
		}
		if math.Abs(cur.X-start.X) > float64(win) || math.Abs(cur.Y-start.Y) > float64(win) {
			cur = start
		}
		corners[k] = cur
	}
	return corners
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
