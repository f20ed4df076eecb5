package cli

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/components/depthcamera/replay"
	"github.com/GiovanniPag/pyNect/config"
	"github.com/GiovanniPag/pyNect/device"
	"github.com/GiovanniPag/pyNect/pointcloud"
	"github.com/GiovanniPag/pyNect/rimage"
	"github.com/GiovanniPag/pyNect/rimage/transform"
)

const pointsFile = "points.pcd"

// PreviewAction streams frame sets from a device through the acquisition loop and writes the
// preview planes of the last one.
func PreviewAction(c *cli.Context) error {
	frames := c.Int(framesFlag)
	if frames <= 0 {
		return errors.Errorf("--%s must be positive, got %d", framesFlag, frames)
	}
	return withClient(c, func(ac *appClient) (err error) {
		format, err := rimage.ParseImageFormat(ac.cfg.ImageFormat)
		if err != nil {
			return err
		}
		var intrinsics *transform.PinholeCameraIntrinsics
		if path := c.Path(intrinsicsFlag); path != "" {
			if intrinsics, err = transform.NewPinholeCameraIntrinsicsFromJSONFile(path); err != nil {
				return err
			}
		}

		m, err := ac.openManager(c.Context)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, m.Close(c.Context))
		}()
		session, err := selectSession(m, c.String(serialFlag))
		if err != nil {
			return err
		}
		if err := m.Switcher().Switch(c.Context, nil, session); err != nil {
			return err
		}

		if err := runPreview(c.Context, ac, m.Switcher(), frames, c.Path(recordFlag), format); err != nil {
			return err
		}
		return writePreview(ac, session, c.Path(outFlag), format, intrinsics)
	})
}

// runPreview runs the acquisition loop until frames frame sets were acquired. A watched config
// file updates the refresh rate while it runs.
func runPreview(
	ctx context.Context,
	ac *appClient,
	sw *device.Switcher,
	frames int,
	recordDir string,
	format rimage.ImageFormat,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		acquired int
		loopErr  error
	)
	done := make(chan struct{})
	finish := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if loopErr == nil && err != nil {
			loopErr = err
		}
		select {
		case <-done:
		default:
			close(done)
		}
	}

	loop, err := device.NewLoop(device.LoopConfig{
		Switcher:    sw,
		RefreshRate: ac.cfg.RefreshRate(),
		OnFrame: func(s *device.Session, fs *depthcamera.FrameSet) {
			if recordDir != "" {
				if err := replay.WriteFrameSet(filepath.Join(recordDir, s.Serial()), fs, format); err != nil {
					finish(errors.Wrap(err, "cannot record frame set"))
					return
				}
			}
			mu.Lock()
			acquired++
			n := acquired
			mu.Unlock()
			if n >= frames {
				finish(nil)
			}
		},
		OnError: func(s *device.Session, err error) {
			finish(errors.Wrapf(err, "lost device %s", s.Serial()))
		},
	}, ac.logger.Sublogger("loop"))
	if err != nil {
		return err
	}

	var reloads <-chan *config.Config
	if path := ac.cfg.ConfigFilePath; path != "" {
		watcher, err := config.NewWatcher(ctx, path, ac.logger.Sublogger("config"))
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(watcher.Close)
		reloads = watcher.Config()
	}

	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			mu.Lock()
			defer mu.Unlock()
			return loopErr
		case cfg := <-reloads:
			if err := loop.SetRefreshRate(cfg.RefreshRate()); err != nil {
				ac.logger.Warnw("cannot apply refresh rate", "refresh_rate_ms", cfg.RefreshRateMs, "error", err)
			}
			if err := config.ApplyLogConfig(cfg.Log, ac.logger); err != nil {
				ac.logger.Warnw("cannot apply log config", "error", err)
			}
		}
	}
}

// writePreview writes the cached planes of the session, and its point cloud when the depth
// intrinsics are known.
func writePreview(
	ac *appClient,
	session *device.Session,
	dir string,
	format rimage.ImageFormat,
	intrinsics *transform.PinholeCameraIntrinsics,
) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	cache := session.Cache()
	planes := []struct {
		plane device.Plane
		ext   string
	}{
		{device.Color, format.Extension()},
		{device.IR, ".png"},
		{device.Depth, ".png"},
	}
	for _, p := range planes {
		buf, err := cache.Get(p.plane)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, p.plane.String()+p.ext)
		if err := rimage.WriteImageFile(path, buf.Image); err != nil {
			return err
		}
		printf(ac.out(), "wrote %s", path)
	}

	if intrinsics == nil {
		return nil
	}
	depth, err := cache.Get(device.Depth)
	if err != nil {
		return err
	}
	points, err := device.DepthToPoints(depth.Mask, intrinsics, 1)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, pointsFile)
	if err := writePoints(path, points); err != nil {
		return err
	}
	printf(ac.out(), "wrote %d points to %s", len(points), path)
	return nil
}

// writePoints writes points as a binary pcd file.
func writePoints(path string, points []r3.Vector) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return pointcloud.ToPCD(points, f, pointcloud.PCDBinary)
}
