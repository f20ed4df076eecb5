package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// ColorPlane is a packed 32 bit per pixel color frame in the sensor's native B, G, R, X byte
// order. The fourth byte carries no information.
type ColorPlane struct {
	Width  int
	Height int
	Pix    []byte
}

// NewColorPlane returns a black plane of the given size.
func NewColorPlane(width, height int) *ColorPlane {
	return &ColorPlane{Width: width, Height: height, Pix: make([]byte, 4*width*height)}
}

// ColorPlaneFromImage packs any image into sensor byte order.
func ColorPlaneFromImage(img image.Image) *ColorPlane {
	b := img.Bounds()
	cp := NewColorPlane(b.Dx(), b.Dy())
	for y := 0; y < cp.Height; y++ {
		for x := 0; x < cp.Width; x++ {
			cp.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return cp
}

// Set stores c at (x, y).
func (cp *ColorPlane) Set(x, y int, c color.Color) {
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	i := 4 * (y*cp.Width + x)
	cp.Pix[i+0] = rgba.B
	cp.Pix[i+1] = rgba.G
	cp.Pix[i+2] = rgba.R
	cp.Pix[i+3] = rgba.A
}

// ToRGBA swaps the channels into an opaque RGBA image of the same size.
func (cp *ColorPlane) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, cp.Width, cp.Height))
	for i := 0; i+3 < len(cp.Pix) && i+3 < len(out.Pix); i += 4 {
		out.Pix[i+0] = cp.Pix[i+2]
		out.Pix[i+1] = cp.Pix[i+1]
		out.Pix[i+2] = cp.Pix[i+0]
		out.Pix[i+3] = 0xff
	}
	return out
}

// Preprocess returns the color plane mirrored horizontally and resized to width x height. The
// result is what every consumer of the color stream sees.
func (cp *ColorPlane) Preprocess(width, height int) *image.NRGBA {
	flipped := imaging.FlipH(cp.ToRGBA())
	if flipped.Bounds().Dx() == width && flipped.Bounds().Dy() == height {
		return flipped
	}
	return imaging.Resize(flipped, width, height, imaging.Linear)
}

// FloatPlane is a single channel frame of 32 bit floats, row major.
type FloatPlane struct {
	Width  int
	Height int
	Data   []float32
}

// NewFloatPlane returns a zeroed plane of the given size.
func NewFloatPlane(width, height int) *FloatPlane {
	return &FloatPlane{Width: width, Height: height, Data: make([]float32, width*height)}
}

// At returns the value at (x, y).
func (fp *FloatPlane) At(x, y int) float32 {
	return fp.Data[y*fp.Width+x]
}

// Set stores v at (x, y).
func (fp *FloatPlane) Set(x, y int, v float32) {
	fp.Data[y*fp.Width+x] = v
}

// Validate ensures the backing slice matches the dimensions.
func (fp *FloatPlane) Validate() error {
	if fp.Width <= 0 || fp.Height <= 0 {
		return errors.Errorf("invalid plane size %dx%d", fp.Width, fp.Height)
	}
	if len(fp.Data) != fp.Width*fp.Height {
		return errors.Errorf("plane of size %dx%d has %d values", fp.Width, fp.Height, len(fp.Data))
	}
	return nil
}

// FlipH returns a horizontally mirrored copy.
func (fp *FloatPlane) FlipH() *FloatPlane {
	out := NewFloatPlane(fp.Width, fp.Height)
	for y := 0; y < fp.Height; y++ {
		row := fp.Data[y*fp.Width : (y+1)*fp.Width]
		outRow := out.Data[y*fp.Width : (y+1)*fp.Width]
		for x := range row {
			outRow[fp.Width-1-x] = row[x]
		}
	}
	return out
}

// ToGray16 quantizes the plane over [0, maxValue] into 16 bits. Values outside the range clamp.
func (fp *FloatPlane) ToGray16(maxValue float64) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, fp.Width, fp.Height))
	for i, v := range fp.Data {
		q := math.Round(float64(v) / maxValue * math.MaxUint16)
		switch {
		case q < 0 || math.IsNaN(q):
			q = 0
		case q > math.MaxUint16:
			q = math.MaxUint16
		}
		out.Pix[2*i] = uint8(uint16(q) >> 8)
		out.Pix[2*i+1] = uint8(uint16(q))
	}
	return out
}

// FloatPlaneFromGray16 is the inverse of ToGray16.
func FloatPlaneFromGray16(img *image.Gray16, maxValue float64) *FloatPlane {
	b := img.Bounds()
	out := NewFloatPlane(b.Dx(), b.Dy())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			out.Set(x, y, float32(float64(img.Gray16At(b.Min.X+x, b.Min.Y+y).Y)*maxValue/math.MaxUint16))
		}
	}
	return out
}

// ScaleGray16 resizes img to width x height with bilinear interpolation.
func ScaleGray16(img *image.Gray16, width, height int) *image.Gray16 {
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return img
	}
	dst := image.NewGray16(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Preprocess returns the plane mirrored horizontally and resized to width x height. maxValue is
// the largest meaningful sample, used to keep precision through the 16 bit resize.
func (fp *FloatPlane) Preprocess(width, height int, maxValue float64) *FloatPlane {
	flipped := fp.FlipH()
	if fp.Width == width && fp.Height == height {
		return flipped
	}
	return FloatPlaneFromGray16(ScaleGray16(flipped.ToGray16(maxValue), width, height), maxValue)
}

// Normalize maps [minValue, maxValue] onto [0, 1], clamping outside values.
func (fp *FloatPlane) Normalize(minValue, maxValue float64) *FloatPlane {
	out := NewFloatPlane(fp.Width, fp.Height)
	span := maxValue - minValue
	for i, v := range fp.Data {
		n := (float64(v) - minValue) / span
		switch {
		case n < 0 || math.IsNaN(n):
			n = 0
		case n > 1:
			n = 1
		}
		out.Data[i] = float32(n)
	}
	return out
}

// ToGray renders a unit range plane as an 8 bit image for display.
func (fp *FloatPlane) ToGray() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, fp.Width, fp.Height))
	for i, v := range fp.Data {
		q := math.Round(float64(v) * math.MaxUint8)
		switch {
		case q < 0 || math.IsNaN(q):
			q = 0
		case q > math.MaxUint8:
			q = math.MaxUint8
		}
		out.Pix[i] = uint8(q)
	}
	return out
}
