package rimage

import (
	"image"
	"image/draw"
)

// SameImgSize compares images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	if (g1.Bounds().Dx() != g2.Bounds().Dx()) || (g1.Bounds().Dy() != g2.Bounds().Dy()) {
		return false
	}
	return true
}

// ToGray converts any image to single channel luminance with its origin at (0, 0). An
// *image.Gray already at the origin is returned as is.
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Bounds().Min == (image.Point{}) {
		return gray
	}
	result := image.NewGray(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(result, result.Bounds(), img, img.Bounds().Min, draw.Src)

	return result
}

// GrayToFloat64 returns the intensities of a gray image as a row major slice.
func GrayToFloat64(gray *image.Gray) []float64 {
	b := gray.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := gray.Pix[(y-b.Min.Y)*gray.Stride : (y-b.Min.Y)*gray.Stride+b.Dx()]
		for _, v := range row {
			out = append(out, float64(v))
		}
	}
	return out
}
