package calibrate

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/GiovanniPag/pyNect/rimage/transform"
)

// Board intensities used by RenderBoard.
const (
	boardDark       = 20
	boardLight      = 235
	boardBackground = 110
)

// renderSupersample is the number of samples per pixel along each axis.
const renderSupersample = 3

// RenderBoard draws the chessboard p as seen by a camera, with the board placed in front of it
// by the rotation vector rvec and translation tvec (board coordinates as in ObjectPoints). The
// board has a one square white margin around the outer squares, everything else is background.
// Pixels are anti-aliased by supersampling.
func RenderBoard(width, height int, p Pattern, model *transform.PinholeCameraModel, rvec, tvec r3.Vector) (*image.Gray, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	rot := transform.RotationMatrixFromVector(rvec)
	// maps board plane (x, y, 1) to normalized camera coordinates
	toCamera, err := transform.NewHomography([]float64{
		rot[0][0], rot[0][1], tvec.X,
		rot[1][0], rot[1][1], tvec.Y,
		rot[2][0], rot[2][1], tvec.Z,
	})
	if err != nil {
		return nil, err
	}
	toBoard, err := toCamera.Inverse()
	if err != nil {
		return nil, errors.Wrap(err, "board is seen edge on")
	}
	var undistort transform.Distorter
	if bc, ok := model.Distortion.(*transform.BrownConrady); ok && bc != nil {
		undistort = bc.Inverse()
	}
	normal := rot.Apply(r3.Vector{Z: 1})
	facing := normal.Dot(tvec)

	img := image.NewGray(image.Rect(0, 0, width, height))
	in := model.PinholeCameraIntrinsics
	step := 1 / float64(renderSupersample)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := 0.
			for sy := 0; sy < renderSupersample; sy++ {
				for sx := 0; sx < renderSupersample; sx++ {
					u := float64(x) - 0.5 + step*(float64(sx)+0.5)
					v := float64(y) - 0.5 + step*(float64(sy)+0.5)
					nx, ny := (u-in.Ppx)/in.Fx, (v-in.Ppy)/in.Fy
					if undistort != nil {
						nx, ny = undistort.Transform(nx, ny)
					}
					sum += boardIntensity(p, toBoard, r2.Point{X: nx, Y: ny}, normal, facing)
				}
			}
			img.Pix[y*img.Stride+x] = uint8(math.Round(sum / float64(renderSupersample*renderSupersample)))
		}
	}
	return img, nil
}

// boardIntensity returns the intensity seen along the ray through normalized point n.
func boardIntensity(p Pattern, toBoard *transform.Homography, n r2.Point, normal r3.Vector, facing float64) float64 {
	// the ray must hit the plane in front of the camera
	ray := r3.Vector{X: n.X, Y: n.Y, Z: 1}
	denom := normal.Dot(ray)
	if denom == 0 || facing/denom <= 0 {
		return boardBackground
	}
	b := toBoard.Apply(n)
	s := p.SquareSize
	minX, minY := -2*s, -2*s
	maxX, maxY := float64(p.Cols+1)*s, float64(p.Rows+1)*s
	if b.X < minX || b.Y < minY || b.X >= maxX || b.Y >= maxY {
		return boardBackground
	}
	if b.X < -s || b.Y < -s || b.X >= float64(p.Cols)*s || b.Y >= float64(p.Rows)*s {
		return boardLight
	}
	i := int(math.Floor(b.X/s)) + 1
	j := int(math.Floor(b.Y/s)) + 1
	if (i+j)%2 == 0 {
		return boardDark
	}
	return boardLight
}
