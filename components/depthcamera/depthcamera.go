// Package depthcamera defines the frame source of a combined color, infrared and depth sensor
// and the drivers that enumerate and open such sensors by serial number.
package depthcamera

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/GiovanniPag/pyNect/rimage"
)

var (
	// ErrDeviceUnavailable is returned when a device cannot be found, opened or read anymore.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrTimeout is returned when no frame set arrived within the requested timeout.
	ErrTimeout = errors.New("timed out waiting for a new frame")
	// ErrNotStarted is returned when frames are requested from a source whose listener is stopped.
	ErrNotStarted = errors.New("frame source not started")
	// ErrClosed is returned by any call on a closed source.
	ErrClosed = errors.New("frame source closed")
)

// NewDeviceUnavailableError wraps ErrDeviceUnavailable with the serial and a reason.
func NewDeviceUnavailableError(serial, reason string) error {
	return errors.Wrapf(ErrDeviceUnavailable, "device %q: %s", serial, reason)
}

// Native sensor resolutions.
const (
	ColorWidth  = 1920
	ColorHeight = 1080
	DepthWidth  = 512
	DepthHeight = 424
)

// FrameSet is one synchronized capture of the three planes. IR and depth share a resolution.
// Depth is in millimeters and IR is raw intensity in [0, 65535].
type FrameSet struct {
	Color     *rimage.ColorPlane
	IR        *rimage.FloatPlane
	Depth     *rimage.FloatPlane
	Sequence  uint64
	Timestamp time.Time
}

// Validate checks that all planes are present and IR and depth agree in size.
func (fs *FrameSet) Validate() error {
	if fs == nil {
		return errors.New("nil frame set")
	}
	if fs.Color == nil || fs.IR == nil || fs.Depth == nil {
		return errors.New("frame set is missing a plane")
	}
	if err := fs.IR.Validate(); err != nil {
		return errors.Wrap(err, "ir plane")
	}
	if err := fs.Depth.Validate(); err != nil {
		return errors.Wrap(err, "depth plane")
	}
	if fs.IR.Width != fs.Depth.Width || fs.IR.Height != fs.Depth.Height {
		return errors.Errorf("ir plane is %dx%d but depth plane is %dx%d",
			fs.IR.Width, fs.IR.Height, fs.Depth.Width, fs.Depth.Height)
	}
	return nil
}

// A FrameSource is an opened device. Frames only flow between Start and Stop, and every frame set
// handed out by WaitForNewFrame must be given back with Release.
type FrameSource interface {
	Serial() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	WaitForNewFrame(ctx context.Context, timeout time.Duration) (*FrameSet, error)
	Release(fs *FrameSet)
	Close(ctx context.Context) error
}

// A Driver enumerates attached devices and opens them.
type Driver interface {
	// EnumerateDevices returns the serials of attached devices. The position of a serial is its
	// ordinal, which may change when devices are plugged or unplugged.
	EnumerateDevices(ctx context.Context) ([]string, error)
	DeviceCount(ctx context.Context) (int, error)
	Open(ctx context.Context, serial string) (FrameSource, error)
	// Generation changes every time the set or order of attached devices changes.
	Generation() uint64
	Close(ctx context.Context) error
}
