package rimage

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestColorPlaneToRGBA(t *testing.T) {
	cp := NewColorPlane(2, 1)
	copy(cp.Pix, []byte{10, 20, 30, 0, 40, 50, 60, 0})

	rgba := cp.ToRGBA()
	test.That(t, rgba.RGBAAt(0, 0), test.ShouldResemble, color.RGBA{30, 20, 10, 0xff})
	test.That(t, rgba.RGBAAt(1, 0), test.ShouldResemble, color.RGBA{60, 50, 40, 0xff})

	back := ColorPlaneFromImage(rgba)
	test.That(t, back.Pix[:3], test.ShouldResemble, []byte{10, 20, 30})
}

func TestColorPlanePreprocess(t *testing.T) {
	cp := NewColorPlane(4, 2)
	cp.Set(0, 0, color.RGBA{R: 255, A: 255})

	same := cp.Preprocess(4, 2)
	// Mirrored: the red pixel moves to the right edge.
	test.That(t, same.NRGBAAt(3, 0), test.ShouldResemble, color.NRGBA{R: 255, A: 255})
	test.That(t, same.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{A: 255})

	half := cp.Preprocess(2, 1)
	test.That(t, half.Bounds(), test.ShouldResemble, image.Rect(0, 0, 2, 1))
}

func TestFloatPlaneFlip(t *testing.T) {
	fp := NewFloatPlane(3, 2)
	copy(fp.Data, []float32{1, 2, 3, 4, 5, 6})
	flipped := fp.FlipH()
	test.That(t, flipped.Data, test.ShouldResemble, []float32{3, 2, 1, 6, 5, 4})
	// The source is untouched.
	test.That(t, fp.Data, test.ShouldResemble, []float32{1, 2, 3, 4, 5, 6})
}

func TestFloatPlaneGray16RoundTrip(t *testing.T) {
	fp := NewFloatPlane(2, 2)
	copy(fp.Data, []float32{0, 1250, 2500, 5000})
	gray := fp.ToGray16(5000)
	test.That(t, gray.Gray16At(1, 1).Y, test.ShouldEqual, uint16(65535))
	test.That(t, gray.Gray16At(0, 0).Y, test.ShouldEqual, uint16(0))

	back := FloatPlaneFromGray16(gray, 5000)
	for i, v := range fp.Data {
		test.That(t, float64(back.Data[i]), test.ShouldAlmostEqual, float64(v), 0.1)
	}

	// Values past the range clamp.
	over := NewFloatPlane(1, 1)
	over.Data[0] = 9000
	test.That(t, over.ToGray16(5000).Gray16At(0, 0).Y, test.ShouldEqual, uint16(65535))
}

func TestFloatPlanePreprocess(t *testing.T) {
	fp := NewFloatPlane(4, 4)
	for i := range fp.Data {
		fp.Data[i] = 1000
	}
	fp.Set(0, 0, 3000)

	out := fp.Preprocess(2, 2, 5000)
	test.That(t, out.Width, test.ShouldEqual, 2)
	test.That(t, out.Height, test.ShouldEqual, 2)
	test.That(t, out.Validate(), test.ShouldBeNil)
	// A constant region stays constant through the resize.
	test.That(t, float64(out.At(0, 1)), test.ShouldAlmostEqual, 1000, 0.5)
	// The bright corner moved to the right after mirroring.
	test.That(t, out.At(1, 0), test.ShouldBeGreaterThan, out.At(0, 0))
}

func TestFloatPlaneNormalize(t *testing.T) {
	fp := NewFloatPlane(4, 1)
	copy(fp.Data, []float32{0, 32767.5, 65535, 70000})
	n := fp.Normalize(0, 65535)
	test.That(t, n.Data[0], test.ShouldEqual, float32(0))
	test.That(t, float64(n.Data[1]), test.ShouldAlmostEqual, 0.5, 1e-6)
	test.That(t, n.Data[2], test.ShouldEqual, float32(1))
	test.That(t, n.Data[3], test.ShouldEqual, float32(1))

	gray := n.ToGray()
	test.That(t, gray.Pix, test.ShouldResemble, []uint8{0, 128, 255, 255})
}

func TestFloatPlaneValidate(t *testing.T) {
	test.That(t, (&FloatPlane{Width: 2, Height: 2, Data: make([]float32, 3)}).Validate(), test.ShouldNotBeNil)
	test.That(t, (&FloatPlane{}).Validate(), test.ShouldNotBeNil)
	test.That(t, NewFloatPlane(2, 2).Validate(), test.ShouldBeNil)
}

func TestToGray(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(2, 2, 4, 3))
	rgba.Set(2, 2, color.White)
	gray := ToGray(rgba)
	test.That(t, gray.Bounds(), test.ShouldResemble, image.Rect(0, 0, 2, 1))
	test.That(t, gray.GrayAt(0, 0).Y, test.ShouldEqual, uint8(255))
	test.That(t, gray.GrayAt(1, 0).Y, test.ShouldEqual, uint8(0))
	test.That(t, ToGray(gray), test.ShouldEqual, gray)
	test.That(t, GrayToFloat64(gray), test.ShouldResemble, []float64{255, 0})
}
