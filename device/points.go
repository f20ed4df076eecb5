package device

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/GiovanniPag/pyNect/rimage"
	"github.com/GiovanniPag/pyNect/rimage/transform"
)

// DepthToPoints back projects every step-th sample of a cached depth mask into camera space, in
// millimeters. intrinsics describe the unmirrored depth sensor at any resolution; they are scaled
// to the mask. Masked samples are skipped.
func DepthToPoints(mask *rimage.DepthMask, intrinsics *transform.PinholeCameraIntrinsics, step int) ([]r3.Vector, error) {
	if mask == nil {
		return nil, ErrNoFrame
	}
	if step < 1 {
		return nil, errors.Errorf("step must be at least 1, got %d", step)
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	w, h := mask.Width(), mask.Height()
	k := intrinsics.Scaled(w, h)
	points := make([]r3.Vector, 0, mask.ValidCount()/(step*step)+1)
	for y := 0; y < h; y += step {
		for x := 0; x < w; x += step {
			z := mask.Get(x, y)
			if z == rimage.DepthSentinel {
				continue
			}
			px, py, pz := k.PixelToPoint(float64(w-1-x), float64(y), float64(z))
			points = append(points, r3.Vector{X: px, Y: py, Z: pz})
		}
	}
	return points, nil
}
