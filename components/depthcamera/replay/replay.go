// Package replay implements a depth camera driver that plays back recorded frame sets from disk.
//
// A recording root holds one directory per device serial, each with the planes of every frame
// set in numbered files:
//
//	<root>/<serial>/color/<seq>.<ext>
//	<root>/<serial>/ir/<seq>.png    16 bit, raw intensity
//	<root>/<serial>/depth/<seq>.png 16 bit, millimeters
//
// Serial directories appearing or disappearing under the root are treated as devices being
// plugged or unplugged.
package replay

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/config"
	"github.com/GiovanniPag/pyNect/logging"
)

// Plane directory names inside a serial directory.
const (
	ColorDir = "color"
	IRDir    = "ir"
	DepthDir = "depth"
)

// several events arrive for a single directory copy or removal.
const rescanDebounce = 200 * time.Millisecond

func init() {
	depthcamera.RegisterDriver(
		config.SourceKindReplay,
		func(ctx context.Context, conf config.SourceConfig, logger logging.Logger) (depthcamera.Driver, error) {
			return NewDriver(ctx, conf, logger)
		})
}

// Driver enumerates the recordings under a root directory.
type Driver struct {
	root    string
	allowed []string
	fsw     *fsnotify.Watcher
	logger  logging.Logger

	mu         sync.Mutex
	attached   []string
	generation uint64
	sources    map[string]*Source
	closed     bool

	debounced               func(f func())
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewDriver scans conf.Path and starts monitoring it. When conf.Serials is not empty only those
// serials are reported.
func NewDriver(ctx context.Context, conf config.SourceConfig, logger logging.Logger) (*Driver, error) {
	if conf.Path == "" {
		return nil, errors.New("replay source needs a path")
	}
	info, err := os.Stat(conf.Path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%q is not a directory", conf.Path)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(conf.Path); err != nil {
		utils.UncheckedError(fsw.Close())
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		root:      conf.Path,
		allowed:   conf.Serials,
		fsw:       fsw,
		logger:    logger,
		sources:   map[string]*Source{},
		debounced: debounce.New(rescanDebounce),
		cancel:    cancel,
	}
	if _, err := d.rescan(); err != nil {
		cancel()
		utils.UncheckedError(fsw.Close())
		return nil, err
	}
	d.monitor(cancelCtx)
	return d, nil
}

// scan lists the serial directories of the root that hold a color directory.
func (d *Driver) scan() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	var serials []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if len(d.allowed) > 0 && !lo.Contains(d.allowed, e.Name()) {
			continue
		}
		if info, err := os.Stat(filepath.Join(d.root, e.Name(), ColorDir)); err != nil || !info.IsDir() {
			continue
		}
		serials = append(serials, e.Name())
	}
	sort.Strings(serials)
	return serials, nil
}

// rescan updates the attached devices and reports whether they changed. Open sources of devices
// that went away become unavailable.
func (d *Driver) rescan() (bool, error) {
	serials, err := d.scan()
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if slices.Equal(serials, d.attached) {
		return false, nil
	}
	gone, added := lo.Difference(d.attached, serials)
	for _, serial := range gone {
		if src, ok := d.sources[serial]; ok {
			src.unplug()
		}
	}
	d.generation++
	d.attached = serials
	d.logger.Infow("recorded devices changed", "attached", serials, "removed", gone, "added", added)
	return true, nil
}

// monitor rescans the root whenever its entries change.
func (d *Driver) monitor(ctx context.Context) {
	d.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-d.fsw.Events:
				if !ok {
					return
				}
				if filepath.Dir(filepath.Clean(event.Name)) != filepath.Clean(d.root) {
					continue
				}
				d.debounced(func() {
					if ctx.Err() != nil {
						return
					}
					if _, err := d.rescan(); err != nil {
						d.logger.Warnw("cannot rescan recordings", "root", d.root, "error", err)
					}
				})
			case err, ok := <-d.fsw.Errors:
				if !ok {
					return
				}
				d.logger.Warnw("recording watcher error", "error", err)
			}
		}
	}, d.activeBackgroundWorkers.Done)
}

// EnumerateDevices implements depthcamera.Driver. It rescans the root so that changes are seen
// even before the watcher reports them.
func (d *Driver) EnumerateDevices(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, depthcamera.ErrClosed
	}
	if _, err := d.rescan(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
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

// Open implements depthcamera.Driver. The recording is indexed but no frame is decoded until it
// is read.
func (d *Driver) Open(ctx context.Context, serial string) (depthcamera.FrameSource, error) {
	if _, err := d.EnumerateDevices(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !lo.Contains(d.attached, serial) {
		return nil, depthcamera.NewDeviceUnavailableError(serial, "no recording")
	}
	if _, ok := d.sources[serial]; ok {
		return nil, depthcamera.NewDeviceUnavailableError(serial, "already opened by another handle")
	}
	rec, err := indexRecording(filepath.Join(d.root, serial))
	if err != nil {
		return nil, depthcamera.NewDeviceUnavailableError(serial, err.Error())
	}
	src := &Source{driver: d, serial: serial, recording: rec, outstanding: map[*depthcamera.FrameSet]struct{}{}}
	d.sources[serial] = src
	d.logger.Debugw("opened recording", "serial", serial, "frames", rec.len())
	return src, nil
}

// Close stops monitoring and closes every open source.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	sources := lo.Values(d.sources)
	d.mu.Unlock()

	d.cancel()
	err := d.fsw.Close()
	d.activeBackgroundWorkers.Wait()
	for _, src := range sources {
		err = multierr.Combine(err, src.Close(ctx))
	}
	return err
}

func (d *Driver) forget(src *Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sources[src.serial] == src {
		delete(d.sources, src.serial)
	}
}
