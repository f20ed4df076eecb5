//go:build opencv

package calibrate

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCVDetector finds chessboard corners with OpenCV's adaptive threshold finder and refines
// them with cornerSubPix using the same window and criteria as the pure Go path.
type OpenCVDetector struct{}

// FindCorners implements Detector.
func (OpenCVDetector) FindCorners(gray *image.Gray, p Pattern) ([]r2.Point, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	img, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	corners := gocv.NewMat()
	defer corners.Close()
	size := image.Pt(p.Cols, p.Rows)
	if !gocv.FindChessboardCorners(img, size, &corners, gocv.CalibCBAdaptiveThresh|gocv.CalibCBNormalizeImage) {
		return nil, ErrPatternNotFound
	}
	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, SubPixCriteria.MaxIter, SubPixCriteria.Epsilon)
	gocv.CornerSubPix(img, &corners, image.Pt(SubPixWindow, SubPixWindow), image.Pt(-1, -1), criteria)

	if corners.Rows() != p.Size() {
		return nil, errors.Wrapf(ErrPatternNotFound, "opencv returned %d corners, want %d", corners.Rows(), p.Size())
	}
	out := make([]r2.Point, corners.Rows())
	for i := range out {
		v := corners.GetVecfAt(i, 0)
		out[i] = r2.Point{X: float64(v[0]), Y: float64(v[1])}
	}
	return out, nil
}
