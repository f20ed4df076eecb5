// Package calibrate finds chessboard corners in images and estimates camera intrinsics and lens
// distortion from them.
package calibrate

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

var (
	// ErrPatternNotFound is returned when an image does not contain the full corner grid.
	ErrPatternNotFound = errors.New("calibration pattern not found")
	// ErrInsufficientViews is returned when too few images contain the pattern to calibrate.
	ErrInsufficientViews = errors.New("insufficient views for calibration")
)

// MinimumViews is the hard floor on the number of views a calibration needs.
const MinimumViews = 3

// Pattern is a chessboard described by its inner corner counts and square edge length in meters.
// Cols is the number of corners along a row.
type Pattern struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	SquareSize float64 `json:"square_size_m"`
}

// Validate checks the pattern is usable.
func (p Pattern) Validate() error {
	if p.Cols < 2 || p.Rows < 2 {
		return errors.Errorf("pattern needs at least 2x2 inner corners, got %dx%d", p.Cols, p.Rows)
	}
	if p.SquareSize <= 0 {
		return errors.Errorf("pattern square size must be positive, got %v", p.SquareSize)
	}
	return nil
}

// Size is the number of inner corners.
func (p Pattern) Size() int {
	return p.Cols * p.Rows
}

// ObjectPoints returns the corner positions on the board plane (z = 0), row by row with x
// varying fastest.
func (p Pattern) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, p.Size())
	for row := 0; row < p.Rows; row++ {
		for col := 0; col < p.Cols; col++ {
			pts = append(pts, r3.Vector{X: float64(col) * p.SquareSize, Y: float64(row) * p.SquareSize})
		}
	}
	return pts
}

// Center is the middle of the corner grid on the board plane.
func (p Pattern) Center() r3.Vector {
	return r3.Vector{
		X: float64(p.Cols-1) * p.SquareSize / 2,
		Y: float64(p.Rows-1) * p.SquareSize / 2,
	}
}

// TermCriteria stops an iterative refinement after MaxIter iterations or once the update is
// smaller than Epsilon, whichever comes first.
type TermCriteria struct {
	MaxIter int     `json:"max_iter"`
	Epsilon float64 `json:"epsilon"`
}

var (
	// SubPixCriteria is used to refine detected corners.
	SubPixCriteria = TermCriteria{MaxIter: 30, Epsilon: 0.001}
	// CalibrationCriteria is used by the nonlinear calibration.
	CalibrationCriteria = TermCriteria{MaxIter: 120, Epsilon: 0.001}
)

// SubPixWindow is the half size of the corner refinement window.
const SubPixWindow = 5
