package device

import (
	"image/color"
	"testing"

	"go.viam.com/test"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/rimage"
)

func smallFrameSet(depth ...float32) *depthcamera.FrameSet {
	fs := &depthcamera.FrameSet{
		Color: rimage.NewColorPlane(4, 1),
		IR:    rimage.NewFloatPlane(4, 1),
		Depth: rimage.NewFloatPlane(4, 1),
	}
	fs.Color.Set(0, 0, color.RGBA{R: 255, A: 255})
	fs.Color.Set(3, 0, color.RGBA{B: 255, A: 255})
	fs.IR.Data = []float32{0, 65535, 32767.5, 65535}
	copy(fs.Depth.Data, depth)
	return fs
}

func TestFrameCacheDerivation(t *testing.T) {
	c := NewFrameCache(4, 1, 0, 5000)
	_, err := c.Get(Color)
	test.That(t, err, test.ShouldBeError, ErrNoFrame)
	_, err = c.Get(Plane(7))
	test.That(t, err, test.ShouldNotBeNil)

	c.SetFrameSet(smallFrameSet(0, 1000, 2500.7, 5000))
	test.That(t, c.Size().X, test.ShouldEqual, 4)

	col, err := c.Get(Color)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, col.Values, test.ShouldBeNil)
	test.That(t, col.Mask, test.ShouldBeNil)
	// mirrored
	r, _, b, _ := col.Image.At(3, 0).RGBA()
	test.That(t, r>>8, test.ShouldEqual, uint32(255))
	test.That(t, b, test.ShouldEqual, uint32(0))
	r, _, b, _ = col.Pixels.At(0, 0).RGBA()
	test.That(t, r, test.ShouldEqual, uint32(0))
	test.That(t, b>>8, test.ShouldEqual, uint32(255))

	ir, err := c.Get(IR)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ir.Mask, test.ShouldBeNil)
	test.That(t, ir.Values.Data[0], test.ShouldEqual, float32(1))
	test.That(t, ir.Values.Data[1], test.ShouldAlmostEqual, 0.5, 1e-6)
	test.That(t, ir.Values.Data[3], test.ShouldEqual, float32(0))

	depth, err := c.Get(Depth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depth.Values.Data[0], test.ShouldEqual, float32(1))
	test.That(t, depth.Values.Data[2], test.ShouldAlmostEqual, 0.2, 1e-6)
	test.That(t, depth.Mask.Get(0, 0), test.ShouldEqual, rimage.DepthSentinel)
	test.That(t, depth.Mask.Get(1, 0), test.ShouldEqual, 2500)
	test.That(t, depth.Mask.Get(2, 0), test.ShouldEqual, 1000)
	test.That(t, depth.Mask.Get(3, 0), test.ShouldEqual, rimage.DepthSentinel)
	test.That(t, depth.Mask.ValidCount(), test.ShouldEqual, 2)
}

func TestFrameCacheIdentity(t *testing.T) {
	c := NewFrameCache(4, 1, 0, 5000)
	c.SetFrameSet(smallFrameSet(100, 200, 300, 400))

	for _, plane := range []Plane{Color, IR, Depth} {
		t.Run(plane.String(), func(t *testing.T) {
			first, err := c.Get(plane)
			test.That(t, err, test.ShouldBeNil)
			second, err := c.Get(plane)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, second, test.ShouldEqual, first)
			test.That(t, c.computations(plane), test.ShouldEqual, 1)
		})
	}

	before, err := c.Get(Color)
	test.That(t, err, test.ShouldBeNil)
	c.SetFrameSet(smallFrameSet(100, 200, 300, 400))
	after, err := c.Get(Color)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after, test.ShouldNotEqual, before)
	test.That(t, c.computations(Color), test.ShouldEqual, 2)
}

func TestFrameCacheDepthCarryOver(t *testing.T) {
	c := NewFrameCache(4, 1, 0, 5000)
	cycle := c.Cycle()
	c.SetFrameSet(smallFrameSet(100, 200, 300, 400))
	test.That(t, c.Cycle(), test.ShouldEqual, cycle+1)
	test.That(t, c.PreviousDepth(), test.ShouldBeNil)

	first, err := c.Get(Depth)
	test.That(t, err, test.ShouldBeNil)

	c.SetFrameSet(smallFrameSet(1, 2, 3, 4))
	test.That(t, c.PreviousDepth(), test.ShouldEqual, first.Mask)
	test.That(t, c.PreviousDepth().Get(0, 0), test.ShouldEqual, 400)

	// depth was not derived in the second cycle, the last known mask is kept
	c.Invalidate()
	test.That(t, c.PreviousDepth(), test.ShouldEqual, first.Mask)
	test.That(t, c.FrameSet(), test.ShouldNotBeNil)

	second, err := c.Get(Depth)
	test.That(t, err, test.ShouldBeNil)
	c.Invalidate()
	test.That(t, c.PreviousDepth(), test.ShouldEqual, second.Mask)
	test.That(t, c.PreviousDepth().Get(0, 0), test.ShouldEqual, 4)

	c.Clear()
	test.That(t, c.FrameSet(), test.ShouldBeNil)
	test.That(t, c.PreviousDepth(), test.ShouldBeNil)
	_, err = c.Get(Depth)
	test.That(t, err, test.ShouldBeError, ErrNoFrame)
}

func TestFrameCacheDetach(t *testing.T) {
	c := NewFrameCache(4, 1, 0, 5000)
	c.SetFrameSet(smallFrameSet(100, 200, 300, 400))
	col, err := c.Get(Color)
	test.That(t, err, test.ShouldBeNil)
	cycle := c.Cycle()

	c.Detach()
	test.That(t, c.FrameSet(), test.ShouldBeNil)
	test.That(t, c.Cycle(), test.ShouldEqual, cycle)
	frozen, err := c.Get(Color)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frozen, test.ShouldEqual, col)
	_, err = c.Get(Depth)
	test.That(t, err, test.ShouldBeError, ErrNoFrame)
	test.That(t, c.computations(Depth), test.ShouldEqual, 0)
}
