package cli

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/GiovanniPag/pyNect/calibration"
	"github.com/GiovanniPag/pyNect/components/depthcamera"
	// register the frame source drivers.
	_ "github.com/GiovanniPag/pyNect/components/depthcamera/fake"
	_ "github.com/GiovanniPag/pyNect/components/depthcamera/replay"
	"github.com/GiovanniPag/pyNect/config"
	"github.com/GiovanniPag/pyNect/device"
	"github.com/GiovanniPag/pyNect/logging"
	"github.com/GiovanniPag/pyNect/rimage/calibrate"
)

// appClient holds what every command needs: the loaded config and a logger writing to the
// error stream of the app.
type appClient struct {
	c      *cli.Context
	cfg    *config.Config
	logger logging.Logger

	logFile *lumberjack.Logger
}

// newAppClient loads the config named by the global flags and sets up logging.
func newAppClient(c *cli.Context) (*appClient, error) {
	debug := c.Bool(debugFlag)
	logger := logging.NewBlankLogger("nect")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	config.InitLoggingSettings(logger, debug)

	cfg := config.Default()
	if path := c.String(configFlag); path != "" {
		var err error
		cfg, err = config.Read(c.Context, path, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot load config %q", path)
		}
	}

	level, err := logging.LevelFromString(cfg.Log.Level)
	if err != nil {
		level = logging.INFO
	}
	if debug {
		level = logging.DEBUG
	}
	logger.SetLevel(level)
	if err := config.ApplyLogConfig(cfg.Log, logger); err != nil {
		return nil, err
	}

	ac := &appClient{c: c, cfg: cfg, logger: logger}
	if cfg.Log.File != "" {
		appender, rotator, err := logging.NewFileAppender(logging.FileAppenderConfig{Filename: cfg.Log.File})
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open log file %q", cfg.Log.File)
		}
		logger.AddAppender(appender)
		ac.logFile = rotator
	}
	return ac, nil
}

func (ac *appClient) out() io.Writer {
	return ac.c.App.Writer
}

func (ac *appClient) close() error {
	if ac.logFile == nil {
		return nil
	}
	return ac.logFile.Close()
}

// openManager builds the configured driver and a device manager over it.
func (ac *appClient) openManager(ctx context.Context) (*device.Manager, error) {
	driver, err := depthcamera.NewDriver(ctx, ac.cfg.Source, ac.logger)
	if err != nil {
		return nil, err
	}
	m, err := device.NewManager(ctx, driver, device.OptionsFromConfig(ac.cfg), ac.logger.Sublogger("device"))
	if err != nil {
		return nil, multierr.Combine(err, driver.Close(ctx))
	}
	return m, nil
}

// selectSession returns the session of serial, or of the first device when serial is empty.
func selectSession(m *device.Manager, serial string) (*device.Session, error) {
	if serial == "" {
		sessions := m.Sessions()
		if len(sessions) == 0 {
			return nil, errors.New("no devices found")
		}
		return sessions[0], nil
	}
	s, ok := m.Session(serial)
	if !ok {
		return nil, depthcamera.NewDeviceUnavailableError(serial, "not attached")
	}
	return s, nil
}

func (ac *appClient) folders() (*calibration.FolderManager, error) {
	return calibration.NewFolderManager(ac.cfg.CalibrationRoot, ac.logger.Sublogger("calibration"))
}

func (ac *appClient) solver() *calibrate.Solver {
	p := ac.cfg.Pattern
	return calibrate.NewSolver(
		calibrate.Pattern{Cols: p.Cols, Rows: p.Rows, SquareSize: p.SquareSizeM},
		ac.cfg.MinViews,
		ac.logger.Sublogger("solver"),
	)
}

// withClient runs action with a client and releases it afterwards.
func withClient(c *cli.Context, action func(ac *appClient) error) (err error) {
	ac, err := newAppClient(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, ac.close())
	}()
	return action(ac)
}
