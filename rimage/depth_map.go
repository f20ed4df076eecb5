package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// DepthSentinel marks an invalid or out of range sample in a DepthMask.
const DepthSentinel = -1

// DepthMask is an integer millimeter depth map where invalid samples hold DepthSentinel.
type DepthMask struct {
	width  int
	height int

	data []int
}

// NewDepthMask returns a mask of the given size where every sample is invalid.
func NewDepthMask(width, height int) *DepthMask {
	dm := &DepthMask{width: width, height: height, data: make([]int, width*height)}
	for i := range dm.data {
		dm.data[i] = DepthSentinel
	}
	return dm
}

// DepthMaskFromPlane truncates a millimeter plane to integers. Samples at or beyond either
// bound are replaced by DepthSentinel.
func DepthMaskFromPlane(fp *FloatPlane, minMm, maxMm float64) *DepthMask {
	dm := &DepthMask{width: fp.Width, height: fp.Height, data: make([]int, len(fp.Data))}
	for i, v := range fp.Data {
		z := float64(v)
		if math.IsNaN(z) || z <= minMm || z >= maxMm {
			dm.data[i] = DepthSentinel
			continue
		}
		dm.data[i] = int(z)
	}
	return dm
}

// Width returns the number of columns.
func (dm *DepthMask) Width() int {
	return dm.width
}

// Height returns the number of rows.
func (dm *DepthMask) Height() int {
	return dm.height
}

// Get returns the depth at (x, y) in millimeters, or DepthSentinel.
func (dm *DepthMask) Get(x, y int) int {
	return dm.data[y*dm.width+x]
}

// Set stores a depth at (x, y).
func (dm *DepthMask) Set(x, y, val int) {
	dm.data[y*dm.width+x] = val
}

// Valid reports whether (x, y) holds a usable depth.
func (dm *DepthMask) Valid(x, y int) bool {
	return dm.Get(x, y) != DepthSentinel
}

// ValidCount returns the number of usable samples.
func (dm *DepthMask) ValidCount() int {
	n := 0
	for _, z := range dm.data {
		if z != DepthSentinel {
			n++
		}
	}
	return n
}

// MinMax returns the smallest and largest valid depth. Both are DepthSentinel for an empty mask.
func (dm *DepthMask) MinMax() (int, int) {
	lo, hi := math.MaxInt, math.MinInt
	for _, z := range dm.data {
		if z == DepthSentinel {
			continue
		}
		if z < lo {
			lo = z
		}
		if z > hi {
			hi = z
		}
	}
	if lo > hi {
		return DepthSentinel, DepthSentinel
	}
	return lo, hi
}

// ToPrettyPicture colors valid samples by depth, from orange (near) to blue (far), clamped to
// [hardMin, hardMax]. Invalid samples stay black.
func (dm *DepthMask) ToPrettyPicture(hardMin, hardMax int) image.Image {
	lo, hi := dm.MinMax()
	if lo < hardMin {
		lo = hardMin
	}
	if hi > hardMax {
		hi = hardMax
	}

	img := image.NewRGBA(image.Rect(0, 0, dm.width, dm.height))
	span := math.Max(float64(hi-lo), 1)
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			z := dm.Get(x, y)
			if z == DepthSentinel {
				img.Set(x, y, color.RGBA{A: 0xff})
				continue
			}
			if z < lo {
				z = lo
			}
			if z > hi {
				z = hi
			}
			ratio := float64(z-lo) / span
			r, g, b := colorful.Hsv(30+200*ratio, 1.0, 1.0).RGB255()
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return img
}
