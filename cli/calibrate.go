package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/GiovanniPag/pyNect/calibration"
	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/device"
	"github.com/GiovanniPag/pyNect/rimage"
	"github.com/GiovanniPag/pyNect/rimage/calibrate"
)

// pollInterval is how often a timed capture is checked for completion.
const pollInterval = 50 * time.Millisecond

// errInputClosed is returned when stdin ends in the middle of a manual capture.
var errInputClosed = errors.New("input closed before the capture was complete")

// CalibrateAction captures shots from a device while the acquisition loop runs, then solves the
// calibration of its color camera.
func CalibrateAction(c *cli.Context) error {
	quota := c.Int(framesFlag)
	modality := calibration.ModalityManual
	if c.Bool(timedFlag) {
		modality = calibration.ModalityTimed
	}
	return withClient(c, func(ac *appClient) (err error) {
		interval := c.Duration(intervalFlag)
		if interval <= 0 {
			interval = ac.cfg.TimedInterval()
		}
		folders, err := ac.folders()
		if err != nil {
			return err
		}
		writer, err := calibration.NewWriterFromConfig(ac.cfg)
		if err != nil {
			return err
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

		loop, err := device.NewLoop(device.LoopConfig{
			Switcher:    m.Switcher(),
			RefreshRate: ac.cfg.RefreshRate(),
		}, ac.logger.Sublogger("loop"))
		if err != nil {
			return err
		}
		if err := loop.Start(c.Context); err != nil {
			return err
		}
		defer loop.Stop()

		controller, err := calibration.NewController(calibration.ControllerConfig{
			Folders: folders,
			Writer:  writer,
			Solver:  ac.solver(),
			Devices: func(serial string) (calibration.FrameSnapshotter, error) {
				s, ok := m.Session(serial)
				if !ok {
					return nil, depthcamera.NewDeviceUnavailableError(serial, "not attached")
				}
				return s, nil
			},
			TimedInterval: interval,
		}, ac.logger.Sublogger("calibration"))
		if err != nil {
			return err
		}
		defer controller.Close()

		finished := make(chan calibration.Event, 1)
		unsubscribe := controller.Subscribe(func(ev calibration.Event) {
			printEvent(ac.out(), ev)
			switch ev.Kind {
			case calibration.EventCompleted, calibration.EventFailed, calibration.EventCancelled:
				select {
				case finished <- ev:
				default:
				}
			case calibration.EventStarted, calibration.EventShotTaken, calibration.EventSolving:
			}
		})
		defer unsubscribe()

		if _, err := controller.Start(c.Context, session.Serial(), modality, quota); err != nil {
			return err
		}
		if modality == calibration.ModalityManual {
			printf(ac.out(), "press Enter to take a shot, q then Enter to abort")
			err = runManualCapture(c.Context, ac, controller)
		} else {
			printf(ac.out(), "taking a shot every %s", interval)
			err = waitForCapture(c.Context, controller)
		}
		if err != nil {
			return err
		}

		ev := <-finished
		if ev.Kind == calibration.EventFailed {
			return errors.Wrap(ev.Err, "calibration failed")
		}
		if ev.Kind == calibration.EventCancelled {
			return errors.New("calibration cancelled")
		}
		return nil
	})
}

// runManualCapture takes a shot for every line read until the capture is over.
func runManualCapture(ctx context.Context, ac *appClient, controller *calibration.Controller) error {
	lines := make(chan string)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	utils.PanicCapturingGo(func() {
		defer close(lines)
		scanner := bufio.NewScanner(ac.c.App.Reader)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-readCtx.Done():
				return
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			return multierr.Combine(ctx.Err(), controller.Cancel(context.Background(), true))
		case line, ok := <-lines:
			if !ok {
				return multierr.Combine(errInputClosed, controller.Cancel(ctx, true))
			}
			if strings.EqualFold(line, "q") {
				return controller.Cancel(ctx, true)
			}
			remaining, err := controller.TakeManualShot(ctx)
			switch {
			case errors.Is(err, calibration.ErrInvalidState):
				return err
			case remaining == 0:
				// the capture was solved; the outcome is reported by its event
				return nil
			case err != nil:
				warningf(ac.out(), "shot not taken: %v", err)
			}
		}
	}
}

// waitForCapture waits until a timed capture is over, aborting it with ctx.
func waitForCapture(ctx context.Context, controller *calibration.Controller) error {
	for {
		if controller.State() == calibration.Idle {
			return nil
		}
		if !utils.SelectContextOrWait(ctx, pollInterval) {
			return multierr.Combine(ctx.Err(), controller.Cancel(context.Background(), true))
		}
	}
}

// SolveAction solves the calibration of the shots already in the folder of a device.
func SolveAction(c *cli.Context) error {
	serial := c.String(serialFlag)
	return withClient(c, func(ac *appClient) error {
		folders, err := ac.folders()
		if err != nil {
			return err
		}
		if _, err := os.Stat(folders.RGBPath(serial)); err != nil {
			return errors.Wrapf(err, "no calibration shots for %s", serial)
		}
		result, err := ac.solver().Solve(c.Context, folders.RGBPath(serial), folders.ResultsPath(serial))
		if err != nil {
			return err
		}
		successf(ac.out(), "calibration of %s solved, RMS error %.4f px over %d views", serial, result.RMS, len(result.Views))
		for _, skipped := range result.Skipped {
			warningf(ac.out(), "pattern not found in %s", skipped)
		}
		return nil
	})
}

// RestoreAction rolls the calibration folder of a device back to the backup an aborted capture
// left behind.
func RestoreAction(c *cli.Context) error {
	serial := c.String(serialFlag)
	return withClient(c, func(ac *appClient) error {
		folders, err := ac.folders()
		if err != nil {
			return err
		}
		if _, err := os.Stat(folders.BackupPath(serial)); os.IsNotExist(err) {
			printf(ac.out(), "no backup of %s to restore", serial)
			return nil
		}
		if err := folders.Restore(serial); err != nil {
			return err
		}
		successf(ac.out(), "restored the calibration folder of %s", serial)
		return nil
	})
}

// ShowAction prints the stored calibration of a device.
func ShowAction(c *cli.Context) error {
	serial := c.String(serialFlag)
	return withClient(c, func(ac *appClient) error {
		folders, err := ac.folders()
		if err != nil {
			return err
		}
		if !folders.IsCalibrated(serial) {
			return errors.Errorf("%s is not calibrated", serial)
		}
		result, err := calibrate.ReadResult(folders.ResultsPath(serial))
		if err != nil {
			return err
		}
		printResult(ac, serial, result)

		if path := c.Path(plotFlag); path != "" {
			if err := calibrate.PlotViewErrors(result, path); err != nil {
				return err
			}
			printf(ac.out(), "wrote %s", path)
		}
		if dir := c.Path(cornersFlag); dir != "" {
			if err := drawViewCorners(folders.RGBPath(serial), dir, result); err != nil {
				return err
			}
			printf(ac.out(), "wrote %d corner overlays to %s", len(result.Views), dir)
		}
		return nil
	})
}

func printResult(ac *appClient, serial string, r *calibrate.Result) {
	k := r.CameraMatrix
	t := table.NewWriter()
	t.SetOutputMirror(ac.out())
	t.SetTitle(fmt.Sprintf("Calibration of %s", serial))
	t.AppendRows([]table.Row{
		{"Resolution", fmt.Sprintf("%dx%d", r.Width, r.Height)},
		{"Pattern", fmt.Sprintf("%dx%d, %g m squares", r.Pattern.Cols, r.Pattern.Rows, r.Pattern.SquareSize)},
		{"Focal length (px)", fmt.Sprintf("fx %.3f, fy %.3f", k[0][0], k[1][1])},
		{"Principal point (px)", fmt.Sprintf("cx %.3f, cy %.3f", k[0][2], k[1][2])},
		{"Distortion", fmt.Sprintf("k1 %.5f, k2 %.5f, p1 %.5f, p2 %.5f, k3 %.5f",
			r.Distortion[0], r.Distortion[1], r.Distortion[2], r.Distortion[3], r.Distortion[4])},
		{"RMS error (px)", fmt.Sprintf("%.4f", r.RMS)},
		{"Views", fmt.Sprintf("%d used, %d skipped", len(r.Views), len(r.Skipped))},
		{"Solved at", r.SolvedAt.Local().Format("2006-01-02 15:04:05")},
	})
	if summary, err := calibrate.SummarizeErrors(r.PerViewErrors); err == nil {
		t.AppendRow(table.Row{"Per view error (px)", fmt.Sprintf("mean %.4f, median %.4f, max %.4f, std dev %.4f",
			summary.Mean, summary.Median, summary.Max, summary.StdDev)})
	}
	t.Render()
}

// drawViewCorners writes every view of r with its corners drawn into dir.
func drawViewCorners(imagesDir, dir string, r *calibrate.Result) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	for i, view := range r.Views {
		if i >= len(r.Corners) {
			break
		}
		img, err := rimage.DecodeImageFile(filepath.Join(imagesDir, view))
		if err != nil {
			return err
		}
		base := strings.TrimSuffix(view, filepath.Ext(view))
		out := filepath.Join(dir, base+"_corners.png")
		if err := rimage.WriteImageFile(out, calibrate.DrawCorners(img, r.Corners[i], r.Pattern)); err != nil {
			return err
		}
	}
	return nil
}
