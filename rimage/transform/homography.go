package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix mapping points of one plane to another, up to scale.
type Homography struct {
	matrix *mat.Dense
}

// NewHomography creates a Homography from a slice of 9 row-major floats.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	return &Homography{mat.NewDense(3, 3, append([]float64(nil), vals...))}, nil
}

// At returns the value of the homography at the given index.
func (h *Homography) At(row, col int) float64 {
	return h.matrix.At(row, col)
}

// Matrix returns a copy of the underlying 3x3 matrix.
func (h *Homography) Matrix() *mat.Dense {
	return mat.DenseCopyOf(h.matrix)
}

// Apply will transform the given point according to the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := pt.X*h.At(0, 0) + pt.Y*h.At(0, 1) + h.At(0, 2)
	y := pt.X*h.At(1, 0) + pt.Y*h.At(1, 1) + h.At(1, 2)
	z := pt.X*h.At(2, 0) + pt.Y*h.At(2, 1) + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse inverts the homography. If homography went from color -> depth, Inverse makes it point
// from depth -> color.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.matrix); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return &Homography{&inv}, nil
}

// Normalized returns the homography scaled so its bottom right entry is 1.
func (h *Homography) Normalized() *Homography {
	s := h.At(2, 2)
	if s == 0 {
		return h
	}
	var out mat.Dense
	out.Scale(1/s, h.matrix)
	return &Homography{&out}
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct
// linear transform. At least 4 correspondences are required.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point lists differ in length: %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 point correspondences, got %d", len(src))
	}
	srcNorm, tSrc, err := normalizePoints(src)
	if err != nil {
		return nil, err
	}
	dstNorm, tDst, err := normalizePoints(dst)
	if err != nil {
		return nil, err
	}

	// two rows per correspondence of A.h = 0
	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcNorm {
		x, y := srcNorm[i].X, srcNorm[i].Y
		u, v := dstNorm[i].X, dstNorm[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	_, v, _, err := performSVD(a)
	if err != nil {
		return nil, err
	}
	hn := mat.NewDense(3, 3, mat.Col(nil, 8, v))

	// H = T_dst^-1 * Hn * T_src
	var tDstInv, tmp, out mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "degenerate destination points")
	}
	tmp.Mul(&tDstInv, hn)
	out.Mul(&tmp, tSrc)
	if math.Abs(out.At(2, 2)) < 1e-15 {
		return &Homography{&out}, nil
	}
	return (&Homography{&out}).Normalized(), nil
}
