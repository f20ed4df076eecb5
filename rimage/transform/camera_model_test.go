package transform

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func kinectColorIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{
		Width:  1280,
		Height: 720,
		Fx:     1050.2,
		Fy:     1049.8,
		Ppx:    640.5,
		Ppy:    361.1,
	}
}

func TestIntrinsicsCheckValid(t *testing.T) {
	var nilIntrinsics *PinholeCameraIntrinsics
	err := nilIntrinsics.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, ErrNoIntrinsics.Error())

	test.That(t, kinectColorIntrinsics().CheckValid(), test.ShouldBeNil)

	bad := kinectColorIntrinsics()
	bad.Fx = 0
	test.That(t, bad.CheckValid().Error(), test.ShouldContainSubstring, "Invalid focal length Fx")

	bad = kinectColorIntrinsics()
	bad.Width = 0
	test.That(t, bad.CheckValid().Error(), test.ShouldContainSubstring, "Invalid size")

	bad = kinectColorIntrinsics()
	bad.Ppy = -1
	test.That(t, bad.CheckValid().Error(), test.ShouldContainSubstring, "Invalid principal Y point")
}

func TestIntrinsicsFromJSONFile(t *testing.T) {
	want := kinectColorIntrinsics()
	data, err := json.Marshal(want)
	test.That(t, err, test.ShouldBeNil)
	path := filepath.Join(t.TempDir(), "intrinsics.json")
	test.That(t, os.WriteFile(path, data, 0o600), test.ShouldBeNil)

	got, err := NewPinholeCameraIntrinsicsFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, want)

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err.Error(), test.ShouldContainSubstring, "error opening JSON file")
}

func TestPixelPointRoundTrip(t *testing.T) {
	in := kinectColorIntrinsics()
	x, y, z := in.PixelToPoint(100, 200, 1500)
	test.That(t, z, test.ShouldEqual, 1500.)
	u, v := in.PointToPixel(x, y, z)
	test.That(t, u, test.ShouldEqual, 100.)
	test.That(t, v, test.ShouldEqual, 200.)

	u, v = in.PointToPixel(1, 1, 0)
	test.That(t, u, test.ShouldEqual, -1.)
	test.That(t, v, test.ShouldEqual, -1.)

	k := in.GetCameraMatrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, in.Fx)
	test.That(t, k.At(1, 2), test.ShouldEqual, in.Ppy)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.)

	back := NewPinholeCameraIntrinsicsFromMatrix([3][3]float64{
		{in.Fx, 0, in.Ppx},
		{0, in.Fy, in.Ppy},
		{0, 0, 1},
	}, in.Width, in.Height)
	test.That(t, back, test.ShouldResemble, in)
}

func TestScaledIntrinsics(t *testing.T) {
	in := &PinholeCameraIntrinsics{Width: 1920, Height: 1080, Fx: 1000, Fy: 1000, Ppx: 960, Ppy: 540}
	s := in.Scaled(960, 540)
	test.That(t, s.Fx, test.ShouldEqual, 500.)
	test.That(t, s.Ppx, test.ShouldEqual, 480.)
	test.That(t, s.Ppy, test.ShouldEqual, 270.)
}

func TestBrownConrady(t *testing.T) {
	_, err := NewBrownConrady([]float64{1, 2, 3, 4, 5, 6})
	test.That(t, err, test.ShouldNotBeNil)

	bc, err := NewBrownConrady([]float64{0.1, -0.05})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{0.1, -0.05, 0, 0, 0})
	test.That(t, bc.ModelType(), test.ShouldEqual, BrownConradyDistortionType)
	test.That(t, bc.CheckValid(), test.ShouldBeNil)

	// the optical center is a fixed point
	x, y := bc.Transform(0, 0)
	test.That(t, x, test.ShouldEqual, 0.)
	test.That(t, y, test.ShouldEqual, 0.)

	// pure radial: x_d = x(1 + k1 r² + k2 r⁴)
	x, y = bc.Transform(0.5, 0)
	test.That(t, x, test.ShouldAlmostEqual, 0.5*(1+0.1*0.25-0.05*0.0625))
	test.That(t, y, test.ShouldEqual, 0.)

	var nilBC *BrownConrady
	test.That(t, nilBC.CheckValid(), test.ShouldNotBeNil)
	x, y = nilBC.Transform(0.3, 0.4)
	test.That(t, x, test.ShouldEqual, 0.3)
	test.That(t, y, test.ShouldEqual, 0.4)

	nan, err := NewBrownConrady([]float64{math.NaN()})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, nan.CheckValid(), test.ShouldNotBeNil)
}

func TestInverseBrownConrady(t *testing.T) {
	params := []float64{0.12, -0.21, 0.001, -0.0015, 0.08}
	forward, err := NewDistorter(BrownConradyDistortionType, params)
	test.That(t, err, test.ShouldBeNil)
	inverse, err := NewDistorter(InverseBrownConradyDistortionType, params)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inverse.Parameters(), test.ShouldResemble, params)
	test.That(t, inverse.CheckValid(), test.ShouldBeNil)

	for _, pt := range []r2.Point{{X: 0, Y: 0}, {X: 0.1, Y: 0.2}, {X: -0.3, Y: 0.25}, {X: 0.4, Y: -0.35}} {
		xd, yd := forward.Transform(pt.X, pt.Y)
		xu, yu := inverse.Transform(xd, yd)
		test.That(t, xu, test.ShouldAlmostEqual, pt.X, 1e-8)
		test.That(t, yu, test.ShouldAlmostEqual, pt.Y, 1e-8)
	}

	_, err = NewDistorter("fisheye", params)
	test.That(t, err.Error(), test.ShouldContainSubstring, "fisheye")
}

func TestProjectPoints(t *testing.T) {
	model := &PinholeCameraModel{PinholeCameraIntrinsics: kinectColorIntrinsics()}

	// on the optical axis
	pts := model.ProjectPoints([]r3.Vector{{X: 0, Y: 0, Z: 0}}, r3.Vector{}, r3.Vector{Z: 2})
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 640.5)
	test.That(t, pts[0].Y, test.ShouldAlmostEqual, 361.1)

	// a quarter turn around z maps x onto y
	pts = model.ProjectPoints([]r3.Vector{{X: 0.1}}, r3.Vector{Z: math.Pi / 2}, r3.Vector{Z: 1})
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 640.5, 1e-9)
	test.That(t, pts[0].Y, test.ShouldAlmostEqual, 361.1+0.1*1049.8, 1e-9)

	behind := model.Project(r3.Vector{X: 1, Z: -1})
	test.That(t, math.IsNaN(behind.X), test.ShouldBeTrue)

	bc, err := NewBrownConrady([]float64{0.1})
	test.That(t, err, test.ShouldBeNil)
	model.Distortion = bc
	distorted := model.Project(r3.Vector{X: 0.5, Z: 1})
	u, v := model.DistortionMap()(640.5+0.5*1050.2, 361.1)
	test.That(t, distorted.X, test.ShouldAlmostEqual, u, 1e-9)
	test.That(t, distorted.Y, test.ShouldAlmostEqual, v, 1e-9)
}

func TestRodrigues(t *testing.T) {
	for _, rvec := range []r3.Vector{
		{},
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: 1.2},
		{Y: -2.5, Z: 0.4},
		{X: math.Pi},
	} {
		rot := RotationMatrixFromVector(rvec)
		// orthonormal with determinant 1
		test.That(t, mat3Det(rot), test.ShouldAlmostEqual, 1, 1e-12)
		back := rot.Vector()
		if rvec.Norm() > math.Pi-1e-6 {
			// the sign of a half turn axis is ambiguous
			test.That(t, math.Abs(back.X), test.ShouldAlmostEqual, math.Pi, 1e-6)
			continue
		}
		test.That(t, back.X, test.ShouldAlmostEqual, rvec.X, 1e-9)
		test.That(t, back.Y, test.ShouldAlmostEqual, rvec.Y, 1e-9)
		test.That(t, back.Z, test.ShouldAlmostEqual, rvec.Z, 1e-9)
	}
}

func TestNearestRotation(t *testing.T) {
	want := RotationMatrixFromVector(r3.Vector{X: 0.3, Y: 0.1, Z: -0.2})
	noisy := want.Dense()
	noisy.Set(0, 0, noisy.At(0, 0)+0.01)
	noisy.Set(1, 2, noisy.At(1, 2)-0.01)
	noisy.Scale(1.05, noisy)

	got, err := NearestRotation(noisy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat3Det(got), test.ShouldAlmostEqual, 1, 1e-9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, got[i][j], test.ShouldAlmostEqual, want[i][j], 0.02)
		}
	}
}

func mat3Det(r RotationMatrix) float64 {
	return r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
}
