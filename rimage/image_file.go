package rimage

import (
	"bufio"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"
)

// ImageFormat is a supported on-disk image encoding.
type ImageFormat string

// The supported image formats.
const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	FormatQOI  ImageFormat = "qoi"
	FormatPPM  ImageFormat = "ppm"
)

// jpegQuality is used for every jpeg written.
const jpegQuality = 95

// ParseImageFormat validates a format name.
func ParseImageFormat(name string) (ImageFormat, error) {
	switch f := ImageFormat(strings.ToLower(name)); f {
	case FormatPNG, FormatJPEG, FormatQOI, FormatPPM:
		return f, nil
	case "jpg":
		return FormatJPEG, nil
	default:
		return "", errors.Errorf("unsupported image format %q", name)
	}
}

// Extension returns the file extension, with the leading dot.
func (f ImageFormat) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (ImageFormat, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", errors.Errorf("no extension on %q", path)
	}
	return ParseImageFormat(ext)
}

// EncodeImage writes img to w in the given format.
func EncodeImage(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	case FormatQOI:
		return qoi.Encode(w, img)
	case FormatPPM:
		return ppm.Encode(w, img)
	default:
		return errors.Errorf("unsupported image format %q", format)
	}
}

// DecodeImage reads an image of the given format.
func DecodeImage(r io.Reader, format ImageFormat) (image.Image, error) {
	switch format {
	case FormatPNG:
		return png.Decode(r)
	case FormatJPEG:
		return jpeg.Decode(r)
	case FormatQOI:
		return qoi.Decode(r)
	case FormatPPM:
		return ppm.Decode(r)
	default:
		return nil, errors.Errorf("unsupported image format %q", format)
	}
}

// WriteImageFile encodes img into path using the format implied by the extension. The file is
// written under a temporary name and renamed into place so readers never see a partial image.
func WriteImageFile(path string, img image.Image) (err error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, os.Remove(tmp.Name()))
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err := EncodeImage(buf, img, format); err != nil {
		return multierr.Combine(errors.Wrapf(err, "cannot encode %s", path), tmp.Close())
	}
	if err := buf.Flush(); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// DecodeImageFile reads the image at path using the format implied by the extension.
func DecodeImageFile(path string) (img image.Image, err error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	img, err = DecodeImage(bufio.NewReader(f), format)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %s", path)
	}
	return img, nil
}
