package calibrate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/GiovanniPag/pyNect/rimage/transform"
)

// ResultFileName is the name of the calibration record inside a results folder.
const ResultFileName = "camera.json"

// cornersSuffix is appended to an image's base name for its corner dump.
const cornersSuffix = ".corners.json"

// Result is a persisted calibration.
type Result struct {
	CameraMatrix  [3][3]float64 `json:"camera_matrix"`
	Distortion    [5]float64    `json:"distortion"`
	RMS           float64       `json:"rms"`
	Width         int           `json:"width_px"`
	Height        int           `json:"height_px"`
	Pattern       Pattern       `json:"pattern"`
	Views         []string      `json:"views"`
	Skipped       []string      `json:"skipped,omitempty"`
	PerViewErrors []float64     `json:"per_view_errors"`
	Iterations    int           `json:"iterations"`
	SolvedAt      time.Time     `json:"solved_at"`
	// Corners holds the refined corners of each view, kept for stereo calibration. They are
	// written next to the record, one file per view.
	Corners [][]r2.Point `json:"-"`
}

// Intrinsics returns the pinhole parameters of the result.
func (r *Result) Intrinsics() *transform.PinholeCameraIntrinsics {
	return transform.NewPinholeCameraIntrinsicsFromMatrix(r.CameraMatrix, r.Width, r.Height)
}

// Model returns the camera model with its Brown-Conrady distortion.
func (r *Result) Model() (*transform.PinholeCameraModel, error) {
	d, err := transform.NewBrownConrady(r.Distortion[:])
	if err != nil {
		return nil, err
	}
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: r.Intrinsics(), Distortion: d}, nil
}

type cornerDump struct {
	View    string     `json:"view"`
	Pattern Pattern    `json:"pattern"`
	Corners []r2.Point `json:"corners"`
}

// WriteResult replaces the result stored in dir: the record, and one corner dump per view.
// Stale corner dumps from an earlier result are removed.
func WriteResult(dir string, r *Result) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	stale, err := filepath.Glob(filepath.Join(dir, "*"+cornersSuffix))
	if err != nil {
		return err
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	for i, view := range r.Views {
		if i >= len(r.Corners) {
			break
		}
		dump := cornerDump{View: view, Pattern: r.Pattern, Corners: r.Corners[i]}
		name := strings.TrimSuffix(filepath.Base(view), filepath.Ext(view)) + cornersSuffix
		if err := writeJSON(filepath.Join(dir, name), dump); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, ResultFileName), r)
}

// ReadResult loads the result stored in dir, including its corner dumps.
func ReadResult(dir string) (*Result, error) {
	//nolint:gosec
	data, err := os.ReadFile(filepath.Join(dir, ResultFileName))
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %s", ResultFileName)
	}
	for _, view := range r.Views {
		name := strings.TrimSuffix(filepath.Base(view), filepath.Ext(view)) + cornersSuffix
		//nolint:gosec
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "missing corners for view %q", view)
		}
		var dump cornerDump
		if err := json.Unmarshal(raw, &dump); err != nil {
			return nil, errors.Wrapf(err, "cannot parse corners of view %q", view)
		}
		r.Corners = append(r.Corners, dump.Corners)
	}
	return &r, nil
}

// writeJSON writes v through a temporary file so readers never see a partial record.
func writeJSON(path string, v interface{}) (err error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, os.Remove(tmp.Name()))
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
