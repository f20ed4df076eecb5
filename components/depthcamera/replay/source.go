package replay

import (
	"context"
	"image"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/image/draw"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/rimage"
	"github.com/GiovanniPag/pyNect/rimage/calibrate"
)

// recording is the ordered list of plane files of one device.
type recording struct {
	color []string
	ir    []string
	depth []string
}

func indexRecording(dir string) (*recording, error) {
	var rec recording
	var err error
	if rec.color, err = calibrate.ListImages(filepath.Join(dir, ColorDir)); err != nil {
		return nil, err
	}
	if rec.ir, err = calibrate.ListImages(filepath.Join(dir, IRDir)); err != nil {
		return nil, err
	}
	if rec.depth, err = calibrate.ListImages(filepath.Join(dir, DepthDir)); err != nil {
		return nil, err
	}
	if rec.len() == 0 {
		return nil, errors.New("recording has no complete frame set")
	}
	return &rec, nil
}

// len is the number of complete frame sets.
func (r *recording) len() int {
	return min(len(r.color), len(r.ir), len(r.depth))
}

func (r *recording) load(i int) (*rimage.ColorPlane, *rimage.FloatPlane, *rimage.FloatPlane, error) {
	colorImg, err := rimage.DecodeImageFile(r.color[i])
	if err != nil {
		return nil, nil, nil, err
	}
	ir, err := loadGray16(r.ir[i])
	if err != nil {
		return nil, nil, nil, err
	}
	depth, err := loadGray16(r.depth[i])
	if err != nil {
		return nil, nil, nil, err
	}
	return rimage.ColorPlaneFromImage(colorImg), ir, depth, nil
}

// loadGray16 reads a 16 bit plane, raw sample values preserved.
func loadGray16(path string) (*rimage.FloatPlane, error) {
	img, err := rimage.DecodeImageFile(path)
	if err != nil {
		return nil, err
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		gray = image.NewGray16(img.Bounds())
		draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	}
	return rimage.FloatPlaneFromGray16(gray, math.MaxUint16), nil
}

// Source replays one recording in a loop, one frame set per read.
type Source struct {
	driver    *Driver
	serial    string
	recording *recording

	mu          sync.Mutex
	started     bool
	closed      bool
	unplugged   bool
	sequence    uint64
	outstanding map[*depthcamera.FrameSet]struct{}
}

// Serial implements depthcamera.FrameSource.
func (s *Source) Serial() string {
	return s.serial
}

func (s *Source) usable() error {
	if s.closed {
		return depthcamera.ErrClosed
	}
	if s.unplugged {
		return depthcamera.NewDeviceUnavailableError(s.serial, "recording removed")
	}
	return nil
}

// Start implements depthcamera.FrameSource.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop implements depthcamera.FrameSource.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return depthcamera.ErrClosed
	}
	s.started = false
	return nil
}

// WaitForNewFrame implements depthcamera.FrameSource. A file that cannot be read anymore makes
// the device unavailable.
func (s *Source) WaitForNewFrame(ctx context.Context, timeout time.Duration) (*depthcamera.FrameSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	if !s.started {
		return nil, depthcamera.ErrNotStarted
	}
	seq := s.sequence
	color, ir, depth, err := s.recording.load(int(seq % uint64(s.recording.len())))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.unplugged = true
			return nil, depthcamera.NewDeviceUnavailableError(s.serial, err.Error())
		}
		return nil, err
	}
	s.sequence++
	fs := &depthcamera.FrameSet{Color: color, IR: ir, Depth: depth, Sequence: seq, Timestamp: time.Now()}
	s.outstanding[fs] = struct{}{}
	return fs, nil
}

// Release implements depthcamera.FrameSource.
func (s *Source) Release(fs *depthcamera.FrameSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outstanding, fs)
}

// Close implements depthcamera.FrameSource.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.started = false
	s.mu.Unlock()
	s.driver.forget(s)
	return nil
}

func (s *Source) unplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unplugged = true
	s.started = false
}

// Outstanding returns how many frame sets have not been released.
func (s *Source) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}

// WriteFrameSet records fs under dir, the serial directory of a recording root. The color plane
// uses format, IR and depth are always 16 bit png.
func WriteFrameSet(dir string, fs *depthcamera.FrameSet, format rimage.ImageFormat) error {
	if err := fs.Validate(); err != nil {
		return err
	}
	for _, sub := range []string{ColorDir, IRDir, DepthDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return err
		}
	}
	name := strconv.FormatUint(fs.Sequence, 10)
	return multierr.Combine(
		rimage.WriteImageFile(filepath.Join(dir, ColorDir, name+format.Extension()), fs.Color.ToRGBA()),
		rimage.WriteImageFile(filepath.Join(dir, IRDir, name+".png"), fs.IR.ToGray16(math.MaxUint16)),
		rimage.WriteImageFile(filepath.Join(dir, DepthDir, name+".png"), fs.Depth.ToGray16(math.MaxUint16)),
	)
}
