package config

import (
	"testing"
	"time"

	"go.viam.com/test"
)

func TestDefaultIsValid(t *testing.T) {
	conf := Default()
	test.That(t, conf.Validate("config"), test.ShouldBeNil)
	test.That(t, conf.Preview, test.ShouldResemble, Resolution{Width: 960, Height: 540})
	test.That(t, conf.RefreshRate(), test.ShouldEqual, 66*time.Millisecond)
	test.That(t, conf.TimedInterval(), test.ShouldEqual, 2*time.Second)
	test.That(t, conf.MinViews, test.ShouldEqual, 10)
	test.That(t, conf.DepthMaxMm, test.ShouldEqual, 5000.0)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(c *Config)
		errStr string
	}{
		{"empty root", func(c *Config) { c.CalibrationRoot = "" }, `"calibration_root" is required`},
		{"preview width", func(c *Config) { c.Preview.Width = 0 }, `"width" is required`},
		{"ir height", func(c *Config) { c.CalibrationIR.Height = -1 }, `"height" is required`},
		{"rows", func(c *Config) { c.Pattern.Rows = 1 }, "rows must be at least 2"},
		{"square", func(c *Config) { c.Pattern.SquareSizeM = 0 }, `"square_size_m" is required`},
		{"min views", func(c *Config) { c.MinViews = 2 }, "min_views must be at least 3"},
		{"refresh", func(c *Config) { c.RefreshRateMs = 0 }, `"refresh_rate_ms" is required`},
		{"timeouts", func(c *Config) { c.MaxConsecutiveTimeouts = 0 }, `"max_consecutive_timeouts" is required`},
		{"depth range", func(c *Config) { c.DepthMaxMm = c.DepthMinMm }, "must be greater than depth_min_mm"},
		{"format", func(c *Config) { c.ImageFormat = "bmp" }, `unknown image_format "bmp"`},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "unknown log level"},
		{"source kind", func(c *Config) { c.Source.Kind = "usb" }, `unknown source kind "usb"`},
		{"replay path", func(c *Config) { c.Source.Kind = SourceKindReplay }, `"path" is required`},
		{"source color", func(c *Config) { c.Source.Color = &Resolution{Width: 640} }, `"height" is required`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := Default()
			tc.mutate(conf)
			err := conf.Validate("config")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errStr)
		})
	}

	t.Run("min views of three", func(t *testing.T) {
		conf := Default()
		conf.MinViews = 3
		test.That(t, conf.Validate("config"), test.ShouldBeNil)
	})
}

func TestRefreshRateForFPS(t *testing.T) {
	for fps, ms := range map[int]int{10: 100, 15: 66, 30: 33, 60: 16} {
		got, err := RefreshRateForFPS(fps)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, ms)
	}
	_, err := RefreshRateForFPS(24)
	test.That(t, err, test.ShouldNotBeNil)
}
