// Package config defines the structures to configure the sensor acquisition and calibration
// pipeline. A single Config is read at startup and handed to every constructor.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"github.com/GiovanniPag/pyNect/logging"
)

// Refresh rate presets in milliseconds, keyed by frames per second.
var RefreshRatePresets = map[int]int{
	10: 100,
	15: 66,
	30: 33,
	60: 16,
}

// Supported values for ImageFormat.
const (
	ImageFormatPNG  = "png"
	ImageFormatJPEG = "jpeg"
	ImageFormatQOI  = "qoi"
	ImageFormatPPM  = "ppm"
)

// Supported values for SourceConfig.Kind.
const (
	SourceKindFake   = "fake"
	SourceKindReplay = "replay"
)

var (
	imageFormats = []string{ImageFormatPNG, ImageFormatJPEG, ImageFormatQOI, ImageFormatPPM}
	sourceKinds  = []string{SourceKindFake, SourceKindReplay}
)

// Resolution is a width and height in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Validate ensures both dimensions are positive.
func (r Resolution) Validate(path string) error {
	if r.Width <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "width")
	}
	if r.Height <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "height")
	}
	return nil
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// PatternConfig describes the chessboard target by its inner corner counts.
type PatternConfig struct {
	Cols        int     `json:"cols"`
	Rows        int     `json:"rows"`
	SquareSizeM float64 `json:"square_size_m"`
}

// Validate ensures the pattern is usable for calibration.
func (p PatternConfig) Validate(path string) error {
	if p.Cols < 2 {
		return utils.NewConfigValidationError(path, errors.Errorf("cols must be at least 2, got %d", p.Cols))
	}
	if p.Rows < 2 {
		return utils.NewConfigValidationError(path, errors.Errorf("rows must be at least 2, got %d", p.Rows))
	}
	if p.SquareSizeM <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "square_size_m")
	}
	return nil
}

// LogConfig configures the process loggers.
type LogConfig struct {
	Level    string                        `json:"level"`
	File     string                        `json:"file,omitempty"`
	Patterns []logging.LoggerPatternConfig `json:"patterns,omitempty"`
}

// Validate ensures the level parses.
func (lc LogConfig) Validate(path string) error {
	if lc.Level == "" {
		return nil
	}
	if _, err := logging.LevelFromString(lc.Level); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// SourceConfig selects the frame source driver. Color and Depth override the native sensor
// resolutions of the synthetic driver.
type SourceConfig struct {
	Kind    string      `json:"kind"`
	Path    string      `json:"path,omitempty"`
	Serials []string    `json:"serials,omitempty"`
	Color   *Resolution `json:"color,omitempty"`
	Depth   *Resolution `json:"depth,omitempty"`
}

// Validate ensures the kind is known and a replay source has a path.
func (sc SourceConfig) Validate(path string) error {
	if !lo.Contains(sourceKinds, sc.Kind) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("unknown source kind %q, expected one of %s", sc.Kind, strings.Join(sourceKinds, ", ")))
	}
	if sc.Kind == SourceKindReplay && sc.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "path")
	}
	if sc.Color != nil {
		if err := sc.Color.Validate(path + ".color"); err != nil {
			return err
		}
	}
	if sc.Depth != nil {
		if err := sc.Depth.Validate(path + ".depth"); err != nil {
			return err
		}
	}
	return nil
}

// Config is the full configuration of the acquisition and calibration pipeline.
type Config struct {
	ConfigFilePath string `json:"-"`

	CalibrationRoot        string        `json:"calibration_root"`
	Preview                Resolution    `json:"preview"`
	CalibrationRGB         Resolution    `json:"calibration_rgb"`
	CalibrationIR          Resolution    `json:"calibration_ir"`
	Pattern                PatternConfig `json:"pattern"`
	MinViews               int           `json:"min_views"`
	RefreshRateMs          int           `json:"refresh_rate_ms"`
	FrameTimeoutMs         int           `json:"frame_timeout_ms"`
	MaxConsecutiveTimeouts int           `json:"max_consecutive_timeouts"`
	DepthMinMm             float64       `json:"depth_min_mm"`
	DepthMaxMm             float64       `json:"depth_max_mm"`
	ImageFormat            string        `json:"image_format"`
	TimedIntervalMs        int           `json:"timed_interval_ms"`
	Log                    LogConfig     `json:"log"`
	Source                 SourceConfig  `json:"source"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		CalibrationRoot:        "calibration",
		Preview:                Resolution{Width: 1920 / 2, Height: 1080 / 2},
		CalibrationRGB:         Resolution{Width: 1280, Height: 720},
		CalibrationIR:          Resolution{Width: 512, Height: 424},
		Pattern:                PatternConfig{Cols: 6, Rows: 8, SquareSizeM: 0.025},
		MinViews:               10,
		RefreshRateMs:          RefreshRatePresets[15],
		FrameTimeoutMs:         2000,
		MaxConsecutiveTimeouts: 5,
		DepthMinMm:             0,
		DepthMaxMm:             5000,
		ImageFormat:            ImageFormatPNG,
		TimedIntervalMs:        2000,
		Log:                    LogConfig{Level: "info"},
		Source:                 SourceConfig{Kind: SourceKindFake, Serials: []string{"012345"}},
	}
}

// Validate returns an error describing the first invalid field.
func (c *Config) Validate(path string) error {
	if c.CalibrationRoot == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "calibration_root")
	}
	if err := c.Preview.Validate(path + ".preview"); err != nil {
		return err
	}
	if err := c.CalibrationRGB.Validate(path + ".calibration_rgb"); err != nil {
		return err
	}
	if err := c.CalibrationIR.Validate(path + ".calibration_ir"); err != nil {
		return err
	}
	if err := c.Pattern.Validate(path + ".pattern"); err != nil {
		return err
	}
	if c.MinViews < 3 {
		return utils.NewConfigValidationError(path, errors.Errorf("min_views must be at least 3, got %d", c.MinViews))
	}
	if c.RefreshRateMs <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "refresh_rate_ms")
	}
	if c.FrameTimeoutMs <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "frame_timeout_ms")
	}
	if c.MaxConsecutiveTimeouts <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "max_consecutive_timeouts")
	}
	if c.DepthMaxMm <= c.DepthMinMm {
		return utils.NewConfigValidationError(path,
			errors.Errorf("depth_max_mm (%v) must be greater than depth_min_mm (%v)", c.DepthMaxMm, c.DepthMinMm))
	}
	if !lo.Contains(imageFormats, c.ImageFormat) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("unknown image_format %q, expected one of %s", c.ImageFormat, strings.Join(imageFormats, ", ")))
	}
	if c.TimedIntervalMs <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "timed_interval_ms")
	}
	if err := c.Log.Validate(path + ".log"); err != nil {
		return err
	}
	return c.Source.Validate(path + ".source")
}

// RefreshRate is the acquisition tick interval.
func (c *Config) RefreshRate() time.Duration {
	return time.Duration(c.RefreshRateMs) * time.Millisecond
}

// FrameTimeout bounds a single blocking frame fetch.
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.FrameTimeoutMs) * time.Millisecond
}

// TimedInterval is the cadence of timed calibration shots.
func (c *Config) TimedInterval() time.Duration {
	return time.Duration(c.TimedIntervalMs) * time.Millisecond
}

// RefreshRateForFPS returns the preset interval for the given frame rate.
func RefreshRateForFPS(fps int) (int, error) {
	ms, ok := RefreshRatePresets[fps]
	if !ok {
		return 0, errors.Errorf("no refresh rate preset for %d fps", fps)
	}
	return ms, nil
}
