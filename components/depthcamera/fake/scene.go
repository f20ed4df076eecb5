package fake

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/rimage"
	"github.com/GiovanniPag/pyNect/rimage/calibrate"
	"github.com/GiovanniPag/pyNect/rimage/transform"
)

// Factory calibration of a Kinect v2 at its native resolutions.
var (
	colorIntrinsics = &transform.PinholeCameraIntrinsics{
		Width:  depthcamera.ColorWidth,
		Height: depthcamera.ColorHeight,
		Fx:     1081.3720703125,
		Fy:     1081.3720703125,
		Ppx:    959.5,
		Ppy:    539.5,
	}
	irIntrinsics = &transform.PinholeCameraIntrinsics{
		Width:  depthcamera.DepthWidth,
		Height: depthcamera.DepthHeight,
		Fx:     365.4560241699219,
		Fy:     365.4560241699219,
		Ppx:    254.87770080566406,
		Ppy:    205.39520263671875,
	}
	irDistortion = &transform.BrownConrady{
		RadialK1: 0.0905474,
		RadialK2: -0.26819,
		RadialK3: 0.0950862,
	}
)

const (
	// wallDepthMm is the depth reported where the board does not cover the view.
	wallDepthMm = 3000
	// framesPerPose is how many consecutive frames show the board in the same pose.
	framesPerPose = 15
	// every invalidEvery-th depth sample reads 0, like pixels without a return.
	invalidEvery = 97
)

type pose struct {
	rvec     r3.Vector
	offset   r3.Vector
	distance float64
}

// The board sweeps through tilted poses so that any run of captures is usable for calibration.
var poses = []pose{
	{rvec: r3.Vector{X: 0.3}, distance: 0.62},
	{rvec: r3.Vector{Y: 0.3}, offset: r3.Vector{X: 0.03}, distance: 0.65},
	{rvec: r3.Vector{X: -0.3}, offset: r3.Vector{Y: 0.02}, distance: 0.68},
	{rvec: r3.Vector{Y: -0.3}, offset: r3.Vector{X: -0.03}, distance: 0.64},
	{rvec: r3.Vector{X: 0.25, Y: 0.25, Z: 0.1}, distance: 0.7},
	{rvec: r3.Vector{X: -0.25, Y: 0.2, Z: -0.1}, offset: r3.Vector{Y: -0.02}, distance: 0.66},
	{rvec: r3.Vector{X: 0.2, Y: -0.25, Z: 0.05}, distance: 0.72},
	{rvec: r3.Vector{X: -0.2, Y: -0.2}, offset: r3.Vector{X: 0.02, Y: 0.02}, distance: 0.75},
}

// translation places the middle of the board at offset + (0, 0, distance) from the camera.
func (ps pose) translation(p calibrate.Pattern) r3.Vector {
	center := transform.RotationMatrixFromVector(ps.rvec).Apply(p.Center())
	return ps.offset.Add(r3.Vector{Z: ps.distance}).Sub(center)
}

// frame holds the planes rendered for one pose, in the mirrored orientation the sensor delivers.
type frame struct {
	color *rimage.ColorPlane
	ir    *rimage.FloatPlane
	depth *rimage.FloatPlane
}

// scene renders the board and caches the planes of every pose it has shown.
type scene struct {
	pattern    calibrate.Pattern
	colorModel *transform.PinholeCameraModel
	irModel    *transform.PinholeCameraModel

	mu     sync.Mutex
	frames map[int]*frame
}

func newScene(p calibrate.Pattern, colorSize, depthSize image.Point) *scene {
	return &scene{
		pattern:    p,
		colorModel: &transform.PinholeCameraModel{PinholeCameraIntrinsics: colorIntrinsics.Scaled(colorSize.X, colorSize.Y)},
		irModel: &transform.PinholeCameraModel{
			PinholeCameraIntrinsics: irIntrinsics.Scaled(depthSize.X, depthSize.Y),
			Distortion:              irDistortion,
		},
		frames: map[int]*frame{},
	}
}

// poseIndex returns the pose shown in the frame with the given sequence number.
func poseIndex(seq uint64) int {
	return int((seq / framesPerPose) % uint64(len(poses)))
}

func (s *scene) frame(i int) (*frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.frames[i]; ok {
		return f, nil
	}
	ps := poses[i]
	tvec := ps.translation(s.pattern)

	colorGray, err := calibrate.RenderBoard(s.colorModel.Width, s.colorModel.Height, s.pattern, s.colorModel, ps.rvec, tvec)
	if err != nil {
		return nil, err
	}
	irGray, err := calibrate.RenderBoard(s.irModel.Width, s.irModel.Height, s.pattern, s.irModel, ps.rvec, tvec)
	if err != nil {
		return nil, err
	}

	f := &frame{
		color: rimage.NewColorPlane(colorGray.Rect.Dx(), colorGray.Rect.Dy()),
		ir:    rimage.NewFloatPlane(irGray.Rect.Dx(), irGray.Rect.Dy()),
	}
	for y := 0; y < f.color.Height; y++ {
		for x := 0; x < f.color.Width; x++ {
			f.color.Set(f.color.Width-1-x, y, color.Gray{Y: colorGray.GrayAt(x, y).Y})
		}
	}
	for y := 0; y < f.ir.Height; y++ {
		for x := 0; x < f.ir.Width; x++ {
			f.ir.Set(f.ir.Width-1-x, y, float32(irGray.GrayAt(x, y).Y)/math.MaxUint8*math.MaxUint16)
		}
	}
	f.depth = s.renderDepth(ps.rvec, tvec).FlipH()
	s.frames[i] = f
	return f, nil
}

// renderDepth returns the distance along the optical axis in millimeters to the board, margin
// included, and to the wall behind it everywhere else.
func (s *scene) renderDepth(rvec, tvec r3.Vector) *rimage.FloatPlane {
	in := s.irModel.PinholeCameraIntrinsics
	out := rimage.NewFloatPlane(in.Width, in.Height)
	rot := transform.RotationMatrixFromVector(rvec)
	normal := rot.Apply(r3.Vector{Z: 1})
	facing := normal.Dot(tvec)
	sq := s.pattern.SquareSize
	minX, minY := -2*sq, -2*sq
	maxX, maxY := float64(s.pattern.Cols+1)*sq, float64(s.pattern.Rows+1)*sq
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			if (y*in.Width+x)%invalidEvery == 0 {
				continue
			}
			depth := float64(wallDepthMm)
			ray := r3.Vector{X: (float64(x) - in.Ppx) / in.Fx, Y: (float64(y) - in.Ppy) / in.Fy, Z: 1}
			if denom := normal.Dot(ray); denom != 0 {
				t := facing / denom
				d := ray.Mul(t).Sub(tvec)
				// board coordinates of the hit
				bx := rot[0][0]*d.X + rot[1][0]*d.Y + rot[2][0]*d.Z
				by := rot[0][1]*d.X + rot[1][1]*d.Y + rot[2][1]*d.Z
				if t > 0 && bx >= minX && by >= minY && bx < maxX && by < maxY {
					depth = math.Min(depth, t*1000)
				}
			}
			out.Set(x, y, float32(depth))
		}
	}
	return out
}

// copyFrame returns planes the caller may keep and modify.
func (f *frame) copyFrame() (*rimage.ColorPlane, *rimage.FloatPlane, *rimage.FloatPlane) {
	c := &rimage.ColorPlane{Width: f.color.Width, Height: f.color.Height, Pix: append([]byte(nil), f.color.Pix...)}
	ir := &rimage.FloatPlane{Width: f.ir.Width, Height: f.ir.Height, Data: append([]float32(nil), f.ir.Data...)}
	d := &rimage.FloatPlane{Width: f.depth.Width, Height: f.depth.Height, Data: append([]float32(nil), f.depth.Data...)}
	return c, ir, d
}
