package calibrate

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/GiovanniPag/pyNect/rimage/transform"
)

// Calibration is the outcome of CalibrateCamera.
type Calibration struct {
	Intrinsics transform.PinholeCameraIntrinsics
	// Distortion is k1, k2, p1, p2, k3.
	Distortion    [5]float64
	RVecs         []r3.Vector
	TVecs         []r3.Vector
	RMS           float64
	PerViewErrors []float64
	Iterations    int
}

// CameraMatrix returns the 3x3 camera matrix.
func (c *Calibration) CameraMatrix() [3][3]float64 {
	in := c.Intrinsics
	return [3][3]float64{
		{in.Fx, 0, in.Ppx},
		{0, in.Fy, in.Ppy},
		{0, 0, 1},
	}
}

// Model returns the camera model with Brown-Conrady distortion.
func (c *Calibration) Model() *transform.PinholeCameraModel {
	in := c.Intrinsics
	bc := &transform.BrownConrady{
		RadialK1:     c.Distortion[0],
		RadialK2:     c.Distortion[1],
		TangentialP1: c.Distortion[2],
		TangentialP2: c.Distortion[3],
		RadialK3:     c.Distortion[4],
	}
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: &in, Distortion: bc}
}

// number of intrinsic parameters: fx, fy, cx, cy, k1, k2, p1, p2, k3
const numIntrinsics = 9

// CalibrateCamera estimates intrinsics, distortion and per view extrinsics from planar views of a
// known target. Initial focal lengths come from the orthogonality of the view homographies with
// the principal point at the image center, then every parameter is refined with
// Levenberg-Marquardt until the relative parameter change falls below criteria.Epsilon or
// criteria.MaxIter iterations ran.
func CalibrateCamera(
	objectPoints [][]r3.Vector,
	imagePoints [][]r2.Point,
	size image.Point,
	criteria TermCriteria,
) (*Calibration, error) {
	if len(objectPoints) != len(imagePoints) {
		return nil, errors.Errorf("got %d object point sets and %d image point sets", len(objectPoints), len(imagePoints))
	}
	if len(objectPoints) < MinimumViews {
		return nil, errors.Wrapf(ErrInsufficientViews, "got %d views, need at least %d", len(objectPoints), MinimumViews)
	}
	for i := range objectPoints {
		if len(objectPoints[i]) != len(imagePoints[i]) {
			return nil, errors.Errorf("view %d has %d object points and %d image points", i, len(objectPoints[i]), len(imagePoints[i]))
		}
		if len(objectPoints[i]) < 4 {
			return nil, errors.Errorf("view %d has %d points, need at least 4", i, len(objectPoints[i]))
		}
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}

	homographies := make([]*transform.Homography, len(objectPoints))
	for i := range objectPoints {
		plane := make([]r2.Point, len(objectPoints[i]))
		for k, p := range objectPoints[i] {
			if p.Z != 0 {
				return nil, errors.Errorf("object points must lie on the z = 0 plane, view %d point %d has z = %v", i, k, p.Z)
			}
			plane[k] = r2.Point{X: p.X, Y: p.Y}
		}
		h, err := transform.EstimateHomography(plane, imagePoints[i])
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		homographies[i] = h
	}

	cx, cy := (float64(size.X)-1)/2, (float64(size.Y)-1)/2
	fx, fy, err := initFocalLengths(homographies, cx, cy)
	if err != nil {
		return nil, err
	}

	prob := &lmProblem{
		objectPoints: objectPoints,
		imagePoints:  imagePoints,
		params:       make([]float64, numIntrinsics+6*len(objectPoints)),
	}
	prob.params[0], prob.params[1], prob.params[2], prob.params[3] = fx, fy, cx, cy
	for i, h := range homographies {
		rvec, tvec, err := initExtrinsics(h, fx, fy, cx, cy)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		prob.setView(i, rvec, tvec)
	}

	iters, err := prob.solve(criteria)
	if err != nil {
		return nil, err
	}

	calib := &Calibration{
		Intrinsics: transform.PinholeCameraIntrinsics{
			Width:  size.X,
			Height: size.Y,
			Fx:     prob.params[0],
			Fy:     prob.params[1],
			Ppx:    prob.params[2],
			Ppy:    prob.params[3],
		},
		Iterations: iters,
	}
	copy(calib.Distortion[:], prob.params[4:numIntrinsics])
	sumSq, count := 0., 0
	for i := range objectPoints {
		rvec, tvec := prob.view(i)
		calib.RVecs = append(calib.RVecs, rvec)
		calib.TVecs = append(calib.TVecs, tvec)
		viewSq := 0.
		for k, p := range projectView(prob.params, rvec, tvec, objectPoints[i]) {
			d := p.Sub(imagePoints[i][k])
			viewSq += d.Dot(d)
		}
		sumSq += viewSq
		count += len(objectPoints[i])
		calib.PerViewErrors = append(calib.PerViewErrors, math.Sqrt(viewSq/float64(len(objectPoints[i]))))
	}
	calib.RMS = math.Sqrt(sumSq / float64(count))
	return calib, nil
}

// initFocalLengths solves for 1/fx² and 1/fy² from the constraints that the first two columns of
// every homography, once the principal point is removed, are orthogonal and of equal length after
// applying the inverse camera matrix.
func initFocalLengths(homographies []*transform.Homography, cx, cy float64) (float64, float64, error) {
	a := mat.NewDense(2*len(homographies), 2, nil)
	b := mat.NewVecDense(2*len(homographies), nil)
	for i, h := range homographies {
		var hc [3][3]float64
		for c := 0; c < 3; c++ {
			hc[0][c] = h.At(0, c) - cx*h.At(2, c)
			hc[1][c] = h.At(1, c) - cy*h.At(2, c)
			hc[2][c] = h.At(2, c)
		}
		col := func(c int) r3.Vector { return r3.Vector{X: hc[0][c], Y: hc[1][c], Z: hc[2][c]} }
		h1, h2 := col(0), col(1)
		d1, d2 := h1.Add(h2).Mul(0.5), h1.Sub(h2).Mul(0.5)
		h1, h2, d1, d2 = h1.Normalize(), h2.Normalize(), d1.Normalize(), d2.Normalize()

		a.SetRow(2*i, []float64{h1.X * h2.X, h1.Y * h2.Y})
		b.SetVec(2*i, -h1.Z*h2.Z)
		a.SetRow(2*i+1, []float64{d1.X * d2.X, d1.Y * d2.Y})
		b.SetVec(2*i+1, -d1.Z*d2.Z)
	}
	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		return 0, 0, errors.Wrap(err, "cannot initialize focal lengths, views may be parallel")
	}
	if f.AtVec(0) == 0 || f.AtVec(1) == 0 {
		return 0, 0, errors.New("cannot initialize focal lengths, views may be parallel")
	}
	fx := math.Sqrt(math.Abs(1 / f.AtVec(0)))
	fy := math.Sqrt(math.Abs(1 / f.AtVec(1)))
	if math.IsNaN(fx) || math.IsNaN(fy) || math.IsInf(fx, 0) || math.IsInf(fy, 0) {
		return 0, 0, errors.New("cannot initialize focal lengths, views may be parallel")
	}
	return fx, fy, nil
}

// initExtrinsics recovers the board pose from a homography: K⁻¹H = λ[r1 r2 t].
func initExtrinsics(h *transform.Homography, fx, fy, cx, cy float64) (r3.Vector, r3.Vector, error) {
	col := func(c int) r3.Vector {
		y := (h.At(1, c) - cy*h.At(2, c)) / fy
		x := (h.At(0, c) - cx*h.At(2, c)) / fx
		return r3.Vector{X: x, Y: y, Z: h.At(2, c)}
	}
	h1, h2, h3 := col(0), col(1), col(2)
	lambda := 1 / h1.Norm()
	if h3.Z < 0 {
		// the board must be in front of the camera
		lambda = -lambda
	}
	r1, r2 := h1.Mul(lambda), h2.Mul(lambda)
	t := h3.Mul(lambda)
	r3v := r1.Cross(r2)
	m := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	rot, err := transform.NearestRotation(m)
	if err != nil {
		return r3.Vector{}, r3.Vector{}, err
	}
	return rot.Vector(), t, nil
}

// projectView projects a view's object points with the intrinsic part of params.
func projectView(params []float64, rvec, tvec r3.Vector, objectPoints []r3.Vector) []r2.Point {
	rot := transform.RotationMatrixFromVector(rvec)
	out := make([]r2.Point, len(objectPoints))
	for i, p := range objectPoints {
		out[i] = projectPoint(params, rot, tvec, p)
	}
	return out
}

func projectPoint(params []float64, rot transform.RotationMatrix, tvec, p r3.Vector) r2.Point {
	fx, fy, cx, cy := params[0], params[1], params[2], params[3]
	k1, k2, p1, p2, k3 := params[4], params[5], params[6], params[7], params[8]
	c := rot.Apply(p).Add(tvec)
	x, y := c.X/c.Z, c.Y/c.Z
	r2v := x*x + y*y
	radial := 1 + r2v*(k1+r2v*(k2+r2v*k3))
	xd := x*radial + 2*p1*x*y + p2*(r2v+2*x*x)
	yd := y*radial + p1*(r2v+2*y*y) + 2*p2*x*y
	return r2.Point{X: fx*xd + cx, Y: fy*yd + cy}
}

// ErrorStats summarizes per view reprojection errors.
type ErrorStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// SummarizeErrors computes summary statistics of per view errors.
func SummarizeErrors(perView []float64) (ErrorStats, error) {
	var out ErrorStats
	var err error
	if out.Mean, err = stats.Mean(perView); err != nil {
		return ErrorStats{}, err
	}
	if out.Median, err = stats.Median(perView); err != nil {
		return ErrorStats{}, err
	}
	if out.Max, err = stats.Max(perView); err != nil {
		return ErrorStats{}, err
	}
	if out.StdDev, err = stats.StandardDeviation(perView); err != nil {
		return ErrorStats{}, err
	}
	return out, nil
}
