// Package fake implements a synthetic depth camera driver. Every attached device shows a
// chessboard sweeping through a fixed set of poses in front of a wall, in color, infrared and
// depth. Devices can be unplugged, plugged and reordered at runtime, and reads can be made to time
// out, which is what the session and switcher tests rely on.
package fake

import (
	"context"
	"image"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/config"
	"github.com/GiovanniPag/pyNect/logging"
	"github.com/GiovanniPag/pyNect/rimage/calibrate"
)

func init() {
	depthcamera.RegisterDriver(
		config.SourceKindFake,
		func(ctx context.Context, conf config.SourceConfig, logger logging.Logger) (depthcamera.Driver, error) {
			return NewDriver(conf, clock.New(), logger)
		})
}

// DefaultPattern is the board shown when none is given.
var DefaultPattern = calibrate.Pattern{Cols: 6, Rows: 8, SquareSize: 0.025}

// Driver is the synthetic driver.
type Driver struct {
	clock  clock.Clock
	scene  *scene
	logger logging.Logger

	mu         sync.Mutex
	attached   []string
	generation uint64
	sources    map[string]*Source
	timeouts   map[string]int
	closed     bool
}

// NewDriver returns a driver with the serials of conf attached in order. Color and Depth of conf
// override the native resolutions.
func NewDriver(conf config.SourceConfig, clk clock.Clock, logger logging.Logger) (*Driver, error) {
	colorSize := image.Pt(depthcamera.ColorWidth, depthcamera.ColorHeight)
	if conf.Color != nil {
		colorSize = image.Pt(conf.Color.Width, conf.Color.Height)
	}
	depthSize := image.Pt(depthcamera.DepthWidth, depthcamera.DepthHeight)
	if conf.Depth != nil {
		depthSize = image.Pt(conf.Depth.Width, conf.Depth.Height)
	}
	if colorSize.X <= 0 || colorSize.Y <= 0 || depthSize.X <= 0 || depthSize.Y <= 0 {
		return nil, errors.Errorf("invalid resolutions color %v depth %v", colorSize, depthSize)
	}
	if dups := lo.FindDuplicates(conf.Serials); len(dups) > 0 {
		return nil, errors.Errorf("duplicate serials %v", dups)
	}
	return &Driver{
		clock:    clk,
		scene:    newScene(DefaultPattern, colorSize, depthSize),
		logger:   logger,
		attached: append([]string(nil), conf.Serials...),
		sources:  map[string]*Source{},
		timeouts: map[string]int{},
	}, nil
}

// EnumerateDevices implements depthcamera.Driver.
func (d *Driver) EnumerateDevices(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, depthcamera.ErrClosed
	}
	return append([]string(nil), d.attached...), nil
}

// DeviceCount implements depthcamera.Driver.
func (d *Driver) DeviceCount(ctx context.Context) (int, error) {
	serials, err := d.EnumerateDevices(ctx)
	return len(serials), err
}

// Generation implements depthcamera.Driver.
func (d *Driver) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Open implements depthcamera.Driver. A device can only be opened once at a time.
func (d *Driver) Open(ctx context.Context, serial string) (depthcamera.FrameSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, depthcamera.ErrClosed
	}
	if !lo.Contains(d.attached, serial) {
		return nil, depthcamera.NewDeviceUnavailableError(serial, "not attached")
	}
	if _, ok := d.sources[serial]; ok {
		return nil, depthcamera.NewDeviceUnavailableError(serial, "already opened by another handle")
	}
	src := &Source{driver: d, serial: serial, outstanding: map[*depthcamera.FrameSet]struct{}{}}
	d.sources[serial] = src
	d.logger.Debugw("opened device", "serial", serial)
	return src, nil
}

// Close closes every open source.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	sources := lo.Values(d.sources)
	d.mu.Unlock()

	var err error
	for _, src := range sources {
		err = multierr.Combine(err, src.Close(ctx))
	}
	return err
}

// Unplug detaches a device. An open source of it fails every following read.
func (d *Driver) Unplug(serial string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !lo.Contains(d.attached, serial) {
		return
	}
	d.attached = lo.Without(d.attached, serial)
	d.generation++
	if src, ok := d.sources[serial]; ok {
		src.unplug()
	}
	d.logger.Infow("device unplugged", "serial", serial)
}

// Plug attaches a device at the end of the enumeration order.
func (d *Driver) Plug(serial string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lo.Contains(d.attached, serial) {
		return
	}
	d.attached = append(d.attached, serial)
	d.generation++
	d.logger.Infow("device plugged", "serial", serial)
}

// Reorder changes the enumeration order. Serials that are not attached are ignored and attached
// serials missing from order keep their relative order after the given ones.
func (d *Driver) Reorder(order []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	head := lo.Filter(lo.Uniq(order), func(s string, _ int) bool { return lo.Contains(d.attached, s) })
	tail := lo.Without(d.attached, head...)
	next := append(head, tail...)
	if slices.Equal(next, d.attached) {
		return
	}
	d.attached = next
	d.generation++
}

// InjectTimeouts makes the next n reads of the device time out.
func (d *Driver) InjectTimeouts(serial string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeouts[serial] += n
}

// Outstanding returns how many frame sets of the device have not been released.
func (d *Driver) Outstanding(serial string) int {
	d.mu.Lock()
	src, ok := d.sources[serial]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return src.outstandingCount()
}

// takeTimeout consumes one injected timeout of serial.
func (d *Driver) takeTimeout(serial string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timeouts[serial] == 0 {
		return false
	}
	d.timeouts[serial]--
	return true
}

func (d *Driver) forget(src *Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sources[src.serial] == src {
		delete(d.sources, src.serial)
	}
}
