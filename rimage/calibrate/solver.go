package calibrate

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/GiovanniPag/pyNect/logging"
	"github.com/GiovanniPag/pyNect/rimage"
)

// Solver calibrates a camera from a folder of images of a chessboard.
type Solver struct {
	Pattern  Pattern
	MinViews int
	Detector Detector
	// Workers bounds how many images are decoded and searched at once.
	Workers             int
	SubPixWindow        int
	SubPixCriteria      TermCriteria
	CalibrationCriteria TermCriteria
	// DebugDir receives an overlay of the detected corners for every view when set.
	DebugDir string

	logger logging.Logger
}

// NewSolver returns a solver with the pure Go detector and the standard criteria. minViews is
// raised to MinimumViews if lower.
func NewSolver(p Pattern, minViews int, logger logging.Logger) *Solver {
	if minViews < MinimumViews {
		minViews = MinimumViews
	}
	return &Solver{
		Pattern:             p,
		MinViews:            minViews,
		Detector:            NewChessboardDetector(),
		Workers:             runtime.NumCPU(),
		SubPixWindow:        SubPixWindow,
		SubPixCriteria:      SubPixCriteria,
		CalibrationCriteria: CalibrationCriteria,
		logger:              logger,
	}
}

type viewDetection struct {
	path    string
	size    image.Point
	corners []r2.Point
	err     error
}

// Solve calibrates from the images in imagesDir, visited in numeric file name order. Images
// without the full pattern are skipped and listed in the result. When resultsDir is not empty the
// result replaces whatever was stored there.
func (s *Solver) Solve(ctx context.Context, imagesDir, resultsDir string) (*Result, error) {
	if err := s.Pattern.Validate(); err != nil {
		return nil, err
	}
	paths, err := ListImages(imagesDir)
	if err != nil {
		return nil, err
	}
	minViews := s.MinViews
	if minViews < MinimumViews {
		minViews = MinimumViews
	}
	s.logger.CInfow(ctx, "solving calibration", "dir", imagesDir, "images", len(paths), "pattern",
		strconv.Itoa(s.Pattern.Cols)+"x"+strconv.Itoa(s.Pattern.Rows))
	start := time.Now()

	detections := make([]viewDetection, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			detections[i] = s.detect(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		size         image.Point
		objectPoints [][]r3.Vector
		imagePoints  [][]r2.Point
		result       = &Result{Pattern: s.Pattern}
	)
	obj := s.Pattern.ObjectPoints()
	for _, d := range detections {
		name := filepath.Base(d.path)
		if d.err == nil && size != (image.Point{}) && d.size != size {
			d.err = errors.Errorf("image is %v, earlier views are %v", d.size, size)
		}
		if d.err != nil {
			s.logger.Warnw("skipping calibration image", "image", name, "error", d.err)
			result.Skipped = append(result.Skipped, name)
			continue
		}
		size = d.size
		objectPoints = append(objectPoints, obj)
		imagePoints = append(imagePoints, d.corners)
		result.Views = append(result.Views, name)
		result.Corners = append(result.Corners, d.corners)
	}
	if len(imagePoints) < minViews {
		return nil, errors.Wrapf(ErrInsufficientViews, "pattern found in %d of %d images, need %d",
			len(imagePoints), len(paths), minViews)
	}

	calib, err := CalibrateCamera(objectPoints, imagePoints, size, s.CalibrationCriteria)
	if err != nil {
		return nil, err
	}
	result.CameraMatrix = calib.CameraMatrix()
	result.Distortion = calib.Distortion
	result.RMS = calib.RMS
	result.Width, result.Height = size.X, size.Y
	result.PerViewErrors = calib.PerViewErrors
	result.Iterations = calib.Iterations
	result.SolvedAt = time.Now()

	s.logger.CInfow(ctx, "calibration solved",
		"rms", calib.RMS,
		"views", len(result.Views),
		"skipped", len(result.Skipped),
		"iterations", calib.Iterations,
		"duration", time.Since(start).String())

	if s.DebugDir != "" {
		if err := s.writeOverlays(paths, detections); err != nil {
			s.logger.Warnw("cannot write corner overlays", "dir", s.DebugDir, "error", err)
		}
	}
	if resultsDir != "" {
		if err := WriteResult(resultsDir, result); err != nil {
			return nil, errors.Wrap(err, "cannot write calibration result")
		}
	}
	return result, nil
}

func (s *Solver) detect(path string) viewDetection {
	d := viewDetection{path: path}
	img, err := rimage.DecodeImageFile(path)
	if err != nil {
		d.err = err
		return d
	}
	gray := rimage.ToGray(img)
	d.size = gray.Bounds().Size()
	corners, err := s.Detector.FindCorners(gray, s.Pattern)
	if err != nil {
		d.err = err
		return d
	}
	d.corners = CornerSubPix(gray, corners, s.SubPixWindow, -1, s.SubPixCriteria)
	return d
}

func (s *Solver) writeOverlays(paths []string, detections []viewDetection) error {
	if err := os.MkdirAll(s.DebugDir, 0o750); err != nil {
		return err
	}
	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup
	for i, d := range detections {
		i, d := i, d
		if d.err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.writeOverlay(paths[i], d.corners)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func (s *Solver) writeOverlay(path string, corners []r2.Point) error {
	img, err := rimage.DecodeImageFile(path)
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return rimage.WriteImageFile(filepath.Join(s.DebugDir, base+"_corners.png"), DrawCorners(img, corners, s.Pattern))
}

// ListImages returns the decodable images of dir sorted by the number in their file name, with
// non numeric names last in lexical order.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := rimage.FormatFromPath(e.Name()); err != nil {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.SliceStable(paths, func(i, j int) bool {
		ni, errI := imageNumber(paths[i])
		nj, errJ := imageNumber(paths[j])
		switch {
		case errI == nil && errJ == nil:
			return ni < nj
		case errI == nil:
			return true
		case errJ == nil:
			return false
		default:
			return paths[i] < paths[j]
		}
	})
	return paths, nil
}

func imageNumber(path string) (int, error) {
	base := filepath.Base(path)
	return strconv.Atoi(strings.TrimSuffix(base, filepath.Ext(base)))
}
