package calibrate

import (
	"context"
	"image"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/GiovanniPag/pyNect/logging"
	"github.com/GiovanniPag/pyNect/rimage"
	"github.com/GiovanniPag/pyNect/rimage/transform"
)

func testPattern() Pattern {
	return Pattern{Cols: 6, Rows: 8, SquareSize: 0.025}
}

func testModel(width, height int) *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     500,
		Fy:     505,
		Ppx:    float64(width-1) / 2,
		Ppy:    float64(height-1) / 2,
	}}
}

// boardInFront returns the translation that puts the middle of the board on the optical axis at
// distance z, for an unrotated board.
func boardInFront(p Pattern, z float64) r3.Vector {
	return boardPose(p, r3.Vector{}, z)
}

func boardPose(p Pattern, rvec r3.Vector, z float64) r3.Vector {
	center := transform.RotationMatrixFromVector(rvec).Apply(p.Center())
	return r3.Vector{X: -center.X, Y: -center.Y, Z: z - center.Z}
}

var testPoses = []r3.Vector{
	{X: 0.3},
	{X: -0.3},
	{Y: 0.3},
	{Y: -0.3},
	{X: 0.25, Y: 0.25, Z: 0.1},
	{X: -0.25, Y: 0.2, Z: -0.1},
	{X: 0.2, Y: -0.25, Z: 0.05},
	{X: -0.2, Y: -0.2},
}

func TestPatternObjectPoints(t *testing.T) {
	p := Pattern{Cols: 3, Rows: 2, SquareSize: 0.5}
	test.That(t, p.Validate(), test.ShouldBeNil)
	test.That(t, p.ObjectPoints(), test.ShouldResemble, []r3.Vector{
		{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 1, Y: 0},
		{X: 0, Y: 0.5}, {X: 0.5, Y: 0.5}, {X: 1, Y: 0.5},
	})
	test.That(t, p.Center(), test.ShouldResemble, r3.Vector{X: 0.5, Y: 0.25})

	test.That(t, Pattern{Cols: 1, Rows: 4, SquareSize: 1}.Validate(), test.ShouldNotBeNil)
	test.That(t, Pattern{Cols: 4, Rows: 4}.Validate(), test.ShouldNotBeNil)
}

func TestRenderBoard(t *testing.T) {
	p := testPattern()
	model := testModel(320, 240)
	gray, err := RenderBoard(320, 240, p, model, r3.Vector{}, boardInFront(p, 1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gray.Bounds(), test.ShouldResemble, image.Rect(0, 0, 320, 240))
	// corners of the frame see the background
	test.That(t, gray.GrayAt(0, 0).Y, test.ShouldEqual, uint8(boardBackground))
	// the center of the first square (board x, y in [-s, 0)) is dark
	first := model.Project(r3.Vector{X: -0.0125, Y: -0.0125}.Add(boardInFront(p, 1)))
	test.That(t, gray.GrayAt(int(math.Round(first.X)), int(math.Round(first.Y))).Y, test.ShouldEqual, uint8(boardDark))

	// a board behind the camera renders as background only
	behind, err := RenderBoard(32, 24, p, testModel(32, 24), r3.Vector{}, r3.Vector{Z: -1})
	test.That(t, err, test.ShouldBeNil)
	for _, v := range behind.Pix {
		test.That(t, v, test.ShouldEqual, uint8(boardBackground))
	}

	_, err = RenderBoard(32, 24, Pattern{}, model, r3.Vector{}, r3.Vector{Z: 1})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDetectRenderedBoard(t *testing.T) {
	p := testPattern()
	model := testModel(640, 480)
	detector := NewChessboardDetector()

	for i, rvec := range testPoses[:4] {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			tvec := boardPose(p, rvec, 0.5)
			gray, err := RenderBoard(640, 480, p, model, rvec, tvec)
			test.That(t, err, test.ShouldBeNil)

			corners, err := detector.FindCorners(gray, p)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, len(corners), test.ShouldEqual, p.Size())
			corners = CornerSubPix(gray, corners, SubPixWindow, -1, SubPixCriteria)

			truth := model.ProjectPoints(p.ObjectPoints(), rvec, tvec)
			for k := range truth {
				test.That(t, corners[k].Sub(truth[k]).Norm(), test.ShouldBeLessThan, 0.25)
			}
		})
	}
}

func TestDetectRejectsIncompleteBoard(t *testing.T) {
	p := testPattern()
	model := testModel(640, 480)
	gray, err := RenderBoard(640, 480, p, model, r3.Vector{}, boardInFront(p, 0.5))
	test.That(t, err, test.ShouldBeNil)

	// a bigger pattern than the one rendered is not found
	_, err = NewChessboardDetector().FindCorners(gray, Pattern{Cols: 7, Rows: 8, SquareSize: 0.025})
	test.That(t, errors.Is(err, ErrPatternNotFound), test.ShouldBeTrue)

	blank := image.NewGray(image.Rect(0, 0, 64, 48))
	_, err = NewChessboardDetector().FindCorners(blank, p)
	test.That(t, errors.Is(err, ErrPatternNotFound), test.ShouldBeTrue)
}

func TestCornerSubPix(t *testing.T) {
	p := testPattern()
	model := testModel(640, 480)
	rvec := r3.Vector{X: 0.2, Y: -0.1}
	tvec := boardPose(p, rvec, 0.5)
	gray, err := RenderBoard(640, 480, p, model, rvec, tvec)
	test.That(t, err, test.ShouldBeNil)

	truth := model.ProjectPoints(p.ObjectPoints(), rvec, tvec)
	start := make([]r2.Point, len(truth))
	for i, pt := range truth {
		start[i] = pt.Add(r2.Point{X: 1.5, Y: -1})
	}
	refined := CornerSubPix(gray, start, SubPixWindow, -1, SubPixCriteria)
	for i := range truth {
		test.That(t, refined[i].Sub(truth[i]).Norm(), test.ShouldBeLessThan, 0.2)
	}

	// on a flat image there is nothing to converge to and the corner stays
	flat := image.NewGray(image.Rect(0, 0, 40, 40))
	out := CornerSubPix(flat, []r2.Point{{X: 20, Y: 20}}, SubPixWindow, -1, SubPixCriteria)
	test.That(t, out[0], test.ShouldResemble, r2.Point{X: 20, Y: 20})
}

func syntheticViews(p Pattern, model *transform.PinholeCameraModel) ([][]r3.Vector, [][]r2.Point) {
	var obj [][]r3.Vector
	var img [][]r2.Point
	for i, rvec := range testPoses {
		tvec := boardPose(p, rvec, 0.45+0.02*float64(i))
		obj = append(obj, p.ObjectPoints())
		img = append(img, model.ProjectPoints(p.ObjectPoints(), rvec, tvec))
	}
	return obj, img
}

func TestCalibrateCameraSynthetic(t *testing.T) {
	p := testPattern()
	model := testModel(640, 480)
	model.Ppx, model.Ppy = 322, 236
	bc, err := transform.NewBrownConrady([]float64{-0.12, 0.05, 0.001, -0.0005, 0})
	test.That(t, err, test.ShouldBeNil)
	model.Distortion = bc

	obj, img := syntheticViews(p, model)
	calib, err := CalibrateCamera(obj, img, image.Pt(640, 480), CalibrationCriteria)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, calib.RMS, test.ShouldBeLessThan, 0.05)
	test.That(t, calib.Intrinsics.Fx, test.ShouldAlmostEqual, 500, 2)
	test.That(t, calib.Intrinsics.Fy, test.ShouldAlmostEqual, 505, 2)
	test.That(t, calib.Intrinsics.Ppx, test.ShouldAlmostEqual, 322, 2)
	test.That(t, calib.Intrinsics.Ppy, test.ShouldAlmostEqual, 236, 2)
	test.That(t, calib.Distortion[0], test.ShouldAlmostEqual, -0.12, 0.03)
	test.That(t, len(calib.RVecs), test.ShouldEqual, len(testPoses))
	test.That(t, len(calib.PerViewErrors), test.ShouldEqual, len(testPoses))
	test.That(t, calib.Iterations, test.ShouldBeLessThanOrEqualTo, CalibrationCriteria.MaxIter)

	k := calib.CameraMatrix()
	test.That(t, k[2], test.ShouldResemble, [3]float64{0, 0, 1})
	reprojected := calib.Model().ProjectPoints(obj[0], calib.RVecs[0], calib.TVecs[0])
	for i := range reprojected {
		test.That(t, reprojected[i].Sub(img[0][i]).Norm(), test.ShouldBeLessThan, 0.1)
	}
}

func TestCalibrateCameraBadInput(t *testing.T) {
	p := testPattern()
	obj, img := syntheticViews(p, testModel(640, 480))

	_, err := CalibrateCamera(obj[:2], img[:2], image.Pt(640, 480), CalibrationCriteria)
	test.That(t, errors.Is(err, ErrInsufficientViews), test.ShouldBeTrue)

	_, err = CalibrateCamera(obj, img[:5], image.Pt(640, 480), CalibrationCriteria)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = CalibrateCamera(obj, img, image.Point{}, CalibrationCriteria)
	test.That(t, err, test.ShouldNotBeNil)

	lifted := make([][]r3.Vector, len(obj))
	for i := range obj {
		lifted[i] = append([]r3.Vector(nil), obj[i]...)
	}
	lifted[0][0].Z = 0.1
	_, err = CalibrateCamera(lifted, img, image.Pt(640, 480), CalibrationCriteria)
	test.That(t, err.Error(), test.ShouldContainSubstring, "z = 0")
}

func writeRenderedViews(t *testing.T, dir string, p Pattern, model *transform.PinholeCameraModel) {
	t.Helper()
	test.That(t, os.MkdirAll(dir, 0o750), test.ShouldBeNil)
	for i, rvec := range testPoses {
		gray, err := RenderBoard(model.Width, model.Height, p, model, rvec, boardPose(p, rvec, 0.45+0.02*float64(i)))
		test.That(t, err, test.ShouldBeNil)
		// descending names like a capture session
		name := strconv.Itoa(len(testPoses)-i) + ".png"
		test.That(t, rimage.WriteImageFile(filepath.Join(dir, name), gray), test.ShouldBeNil)
	}
}

func TestSolver(t *testing.T) {
	logger := logging.NewTestLogger(t)
	p := testPattern()
	model := testModel(640, 480)
	root := t.TempDir()
	images := filepath.Join(root, "RGB")
	results := filepath.Join(root, "calibration_results")
	writeRenderedViews(t, images, p, model)
	blank := image.NewGray(image.Rect(0, 0, 640, 480))
	test.That(t, rimage.WriteImageFile(filepath.Join(images, "100.png"), blank), test.ShouldBeNil)

	solver := NewSolver(p, 5, logger)
	solver.DebugDir = filepath.Join(root, "debug")
	res, err := solver.Solve(context.Background(), images, results)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Views, test.ShouldHaveLength, len(testPoses))
	test.That(t, res.Views[0], test.ShouldEqual, "1.png")
	test.That(t, res.Skipped, test.ShouldResemble, []string{"100.png"})
	test.That(t, res.RMS, test.ShouldBeLessThan, 0.5)
	test.That(t, res.Width, test.ShouldEqual, 640)
	test.That(t, res.CameraMatrix[0][0], test.ShouldAlmostEqual, 500, 10)
	test.That(t, res.CameraMatrix[1][1], test.ShouldAlmostEqual, 505, 10)

	_, err = os.Stat(filepath.Join(solver.DebugDir, "1_corners.png"))
	test.That(t, err, test.ShouldBeNil)

	stored, err := ReadResult(results)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stored.CameraMatrix, test.ShouldResemble, res.CameraMatrix)
	test.That(t, stored.Views, test.ShouldResemble, res.Views)
	test.That(t, stored.Corners, test.ShouldHaveLength, len(testPoses))
	test.That(t, stored.Corners[0], test.ShouldResemble, res.Corners[0])
	intr := stored.Intrinsics()
	test.That(t, intr.CheckValid(), test.ShouldBeNil)
	m, err := stored.Model()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Distortion.Parameters(), test.ShouldResemble, res.Distortion[:])

	t.Run("insufficient views", func(t *testing.T) {
		solver := NewSolver(p, 20, logger)
		_, err := solver.Solve(context.Background(), images, "")
		test.That(t, errors.Is(err, ErrInsufficientViews), test.ShouldBeTrue)
	})

	t.Run("minimum is clamped", func(t *testing.T) {
		test.That(t, NewSolver(p, 1, logger).MinViews, test.ShouldEqual, MinimumViews)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewSolver(p, 5, logger).Solve(ctx, images, "")
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})
}

func TestWriteResultReplacesCorners(t *testing.T) {
	dir := t.TempDir()
	first := &Result{Views: []string{"1.png", "2.png"}, Corners: [][]r2.Point{{{X: 1}}, {{X: 2}}}, PerViewErrors: []float64{0.1, 0.2}}
	test.That(t, WriteResult(dir, first), test.ShouldBeNil)
	second := &Result{Views: []string{"3.png"}, Corners: [][]r2.Point{{{X: 3}}}, PerViewErrors: []float64{0.3}}
	test.That(t, WriteResult(dir, second), test.ShouldBeNil)

	dumps, err := filepath.Glob(filepath.Join(dir, "*"+cornersSuffix))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dumps, test.ShouldResemble, []string{filepath.Join(dir, "3"+cornersSuffix)})

	got, err := ReadResult(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Corners, test.ShouldResemble, [][]r2.Point{{{X: 3}}})

	_, err = ReadResult(t.TempDir())
	test.That(t, os.IsNotExist(errors.Cause(err)), test.ShouldBeTrue)
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10.png", "2.png", "1.jpg", "notes.txt", "b.qoi", "a.ppm"} {
		test.That(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600), test.ShouldBeNil)
	}
	test.That(t, os.Mkdir(filepath.Join(dir, "3.png"), 0o750), test.ShouldBeNil)

	paths, err := ListImages(dir)
	test.That(t, err, test.ShouldBeNil)
	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	test.That(t, names, test.ShouldResemble, []string{"1.jpg", "2.png", "10.png", "a.ppm", "b.qoi"})
}

func TestDrawCornersAndPlot(t *testing.T) {
	p := Pattern{Cols: 2, Rows: 2, SquareSize: 1}
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	corners := []r2.Point{{X: 10, Y: 10}, {X: 30, Y: 10}, {X: 10, Y: 30}, {X: 30, Y: 30}}
	out := DrawCorners(img, corners, p)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
	r, g, b, _ := out.At(14, 10).RGBA()
	test.That(t, r != g || g != b, test.ShouldBeTrue)

	res := &Result{Views: []string{"1.png", "2.png", "3.png"}, PerViewErrors: []float64{0.2, 0.35, 0.1}, RMS: 0.24}
	path := filepath.Join(t.TempDir(), "errors.png")
	test.That(t, PlotViewErrors(res, path), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)

	test.That(t, PlotViewErrors(&Result{}, path), test.ShouldNotBeNil)
}

func TestStats(t *testing.T) {
	s, err := SummarizeErrors([]float64{0.1, 0.2, 0.3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Mean, test.ShouldAlmostEqual, 0.2)
	test.That(t, s.Median, test.ShouldAlmostEqual, 0.2)
	test.That(t, s.Max, test.ShouldAlmostEqual, 0.3)
	_, err = SummarizeErrors(nil)
	test.That(t, err, test.ShouldNotBeNil)

	norm := NormalizeCorners([]Corner{{X: 0, Y: 0, R: 1}, {X: 2, Y: 4, R: 2}})
	test.That(t, norm[0].X, test.ShouldAlmostEqual, -1)
	test.That(t, norm[1].Y, test.ShouldAlmostEqual, 1)
	test.That(t, norm[1].R, test.ShouldEqual, 2.)

	sorted := SortCornerListByR([]Corner{{R: 1}, {R: 3}, {R: 2}})
	test.That(t, sorted[0].R, test.ShouldEqual, 3.)
}
