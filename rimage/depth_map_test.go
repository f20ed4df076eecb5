package rimage

import (
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestDepthMaskFromPlane(t *testing.T) {
	fp := NewFloatPlane(4, 2)
	copy(fp.Data, []float32{0, 749.6, 5000, 1200, 4999.9, 6000, -3, 1})

	m := DepthMaskFromPlane(fp, 0, 5000)
	test.That(t, m.Width(), test.ShouldEqual, 4)
	test.That(t, m.Height(), test.ShouldEqual, 2)

	// Both extremes and anything past them are invalid.
	test.That(t, m.Get(0, 0), test.ShouldEqual, DepthSentinel)
	test.That(t, m.Get(2, 0), test.ShouldEqual, DepthSentinel)
	test.That(t, m.Get(1, 1), test.ShouldEqual, DepthSentinel)
	test.That(t, m.Get(2, 1), test.ShouldEqual, DepthSentinel)

	test.That(t, m.Get(1, 0), test.ShouldEqual, 749)
	test.That(t, m.Get(3, 0), test.ShouldEqual, 1200)
	test.That(t, m.Get(0, 1), test.ShouldEqual, 4999)
	test.That(t, m.Get(3, 1), test.ShouldEqual, 1)
	test.That(t, m.Valid(3, 1), test.ShouldBeTrue)
	test.That(t, m.ValidCount(), test.ShouldEqual, 4)

	lo, hi := m.MinMax()
	test.That(t, lo, test.ShouldEqual, 1)
	test.That(t, hi, test.ShouldEqual, 4999)
}

func TestDepthMaskEmpty(t *testing.T) {
	m := NewDepthMask(3, 3)
	test.That(t, m.ValidCount(), test.ShouldEqual, 0)
	lo, hi := m.MinMax()
	test.That(t, lo, test.ShouldEqual, DepthSentinel)
	test.That(t, hi, test.ShouldEqual, DepthSentinel)

	m.Set(1, 1, 800)
	test.That(t, m.Get(1, 1), test.ShouldEqual, 800)
}

func TestDepthMaskPrettyPicture(t *testing.T) {
	m := NewDepthMask(3, 1)
	m.Set(0, 0, 500)
	m.Set(1, 0, 1500)

	img := m.ToPrettyPicture(0, 5000)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 3)
	// Near and far get different colors; invalid stays black.
	test.That(t, img.At(0, 0), test.ShouldNotResemble, img.At(1, 0))
	test.That(t, img.At(2, 0), test.ShouldResemble, color.RGBA{A: 0xff})
}
