package replay

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/config"
	"github.com/GiovanniPag/pyNect/logging"
	"github.com/GiovanniPag/pyNect/rimage"
)

func testFrameSet(seq uint64) *depthcamera.FrameSet {
	fs := &depthcamera.FrameSet{
		Color:    rimage.NewColorPlane(8, 6),
		IR:       rimage.NewFloatPlane(4, 3),
		Depth:    rimage.NewFloatPlane(4, 3),
		Sequence: seq,
	}
	fs.Color.Set(1, 2, color.RGBA{R: 200, G: 100, B: uint8(seq), A: 255})
	for i := range fs.IR.Data {
		fs.IR.Data[i] = float32(1000*i) + float32(seq)
		fs.Depth.Data[i] = float32(500 + i + int(seq))
	}
	return fs
}

func record(t *testing.T, root, serial string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		test.That(t, WriteFrameSet(filepath.Join(root, serial), testFrameSet(uint64(i)), rimage.FormatPNG), test.ShouldBeNil)
	}
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	root := t.TempDir()
	record(t, root, "b", 3)
	record(t, root, "a", 1)
	// not a recording
	test.That(t, os.Mkdir(filepath.Join(root, "notes"), 0o750), test.ShouldBeNil)

	d, err := NewDriver(ctx, config.SourceConfig{Kind: config.SourceKindReplay, Path: root}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	}()

	serials, err := d.EnumerateDevices(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, serials, test.ShouldResemble, []string{"a", "b"})

	src, err := d.Open(ctx, "b")
	test.That(t, err, test.ShouldBeNil)
	_, err = d.Open(ctx, "b")
	test.That(t, errors.Is(err, depthcamera.ErrDeviceUnavailable), test.ShouldBeTrue)
	_, err = d.Open(ctx, "notes")
	test.That(t, errors.Is(err, depthcamera.ErrDeviceUnavailable), test.ShouldBeTrue)

	_, err = src.WaitForNewFrame(ctx, time.Second)
	test.That(t, errors.Is(err, depthcamera.ErrNotStarted), test.ShouldBeTrue)
	test.That(t, src.Start(ctx), test.ShouldBeNil)

	for i := 0; i < 4; i++ {
		fs, err := src.WaitForNewFrame(ctx, time.Second)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, fs.Validate(), test.ShouldBeNil)
		test.That(t, fs.Sequence, test.ShouldEqual, uint64(i))
		want := testFrameSet(uint64(i % 3))
		test.That(t, fs.Depth.Data, test.ShouldResemble, want.Depth.Data)
		test.That(t, fs.IR.Data, test.ShouldResemble, want.IR.Data)
		test.That(t, fs.Color.ToRGBA().Pix, test.ShouldResemble, want.Color.ToRGBA().Pix)
		src.Release(fs)
	}
	test.That(t, src.(*Source).Outstanding(), test.ShouldEqual, 0)

	t.Run("hot plug", func(t *testing.T) {
		gen := d.Generation()
		record(t, root, "c", 1)
		testutils.WaitForAssertionWithSleep(t, 50*time.Millisecond, 100, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, d.Generation(), test.ShouldBeGreaterThan, gen)
		})
		serials, err := d.EnumerateDevices(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, serials, test.ShouldResemble, []string{"a", "b", "c"})
	})

	t.Run("unplug", func(t *testing.T) {
		gen := d.Generation()
		test.That(t, os.RemoveAll(filepath.Join(root, "b")), test.ShouldBeNil)
		serials, err := d.EnumerateDevices(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, serials, test.ShouldResemble, []string{"a", "c"})
		test.That(t, d.Generation(), test.ShouldBeGreaterThan, gen)

		_, err = src.WaitForNewFrame(ctx, time.Second)
		test.That(t, errors.Is(err, depthcamera.ErrDeviceUnavailable), test.ShouldBeTrue)
		test.That(t, src.Close(ctx), test.ShouldBeNil)
	})
}

func TestReplayConfig(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	root := t.TempDir()
	record(t, root, "a", 1)
	record(t, root, "b", 1)

	_, err := NewDriver(ctx, config.SourceConfig{Kind: config.SourceKindReplay}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewDriver(ctx, config.SourceConfig{Kind: config.SourceKindReplay, Path: filepath.Join(root, "missing")}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	d, err := depthcamera.NewDriver(ctx, config.SourceConfig{
		Kind:    config.SourceKindReplay,
		Path:    root,
		Serials: []string{"b"},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	serials, err := d.EnumerateDevices(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, serials, test.ShouldResemble, []string{"b"})
	test.That(t, d.Close(ctx), test.ShouldBeNil)
	_, err = d.EnumerateDevices(ctx)
	test.That(t, errors.Is(err, depthcamera.ErrClosed), test.ShouldBeTrue)
}

func TestIncompleteRecording(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	test.That(t, os.MkdirAll(filepath.Join(root, "a", ColorDir), 0o750), test.ShouldBeNil)
	d, err := NewDriver(ctx, config.SourceConfig{Kind: config.SourceKindReplay, Path: root}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	}()
	n, err := d.DeviceCount(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 1)
	_, err = d.Open(ctx, "a")
	test.That(t, errors.Is(err, depthcamera.ErrDeviceUnavailable), test.ShouldBeTrue)
}
