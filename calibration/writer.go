package calibration

import (
	"image"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/GiovanniPag/pyNect/config"
	"github.com/GiovanniPag/pyNect/rimage"
)

// A FrameSnapshotter hands out the current color and infrared planes of a device at the requested
// sizes. *device.Session is one.
type FrameSnapshotter interface {
	SnapshotForCalibration(colorSize, irSize image.Point) (image.Image, *image.Gray, error)
}

// Writer stores calibration shots at the calibration working resolutions.
type Writer struct {
	Format    rimage.ImageFormat
	ColorSize image.Point
	IRSize    image.Point
}

// NewWriterFromConfig returns the writer described by cfg.
func NewWriterFromConfig(cfg *config.Config) (*Writer, error) {
	format, err := rimage.ParseImageFormat(cfg.ImageFormat)
	if err != nil {
		return nil, err
	}
	return &Writer{
		Format:    format,
		ColorSize: image.Pt(cfg.CalibrationRGB.Width, cfg.CalibrationRGB.Height),
		IRSize:    image.Pt(cfg.CalibrationIR.Width, cfg.CalibrationIR.Height),
	}, nil
}

// ShotName returns the file name of shot n.
func (w *Writer) ShotName(n int) string {
	return strconv.Itoa(n) + w.Format.Extension()
}

// Capture takes a snapshot of src and writes it as shot n into rgbDir and irDir.
func (w *Writer) Capture(src FrameSnapshotter, rgbDir, irDir string, n int) error {
	color, ir, err := src.SnapshotForCalibration(w.ColorSize, w.IRSize)
	if err != nil {
		return errors.Wrap(err, "cannot take calibration snapshot")
	}
	name := w.ShotName(n)
	return multierr.Combine(
		rimage.WriteImageFile(filepath.Join(rgbDir, name), color),
		rimage.WriteImageFile(filepath.Join(irDir, name), ir),
	)
}
