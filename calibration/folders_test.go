package calibration

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"github.com/GiovanniPag/pyNect/logging"
	"github.com/GiovanniPag/pyNect/rimage/calibrate"
)

// snapshotTree maps every entry under root to its contents; directories map to "/".
func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			out[rel] = "/"
			return nil
		}
		//nolint:gosec
		data, err := os.ReadFile(path)
		out[rel] = string(data)
		return err
	})
	test.That(t, err, test.ShouldBeNil)
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	test.That(t, os.MkdirAll(filepath.Dir(path), 0o750), test.ShouldBeNil)
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
}

func seedCalibration(t *testing.T, fm *FolderManager, serial string) {
	t.Helper()
	writeFile(t, filepath.Join(fm.RGBPath(serial), "1.png"), "rgb one")
	writeFile(t, filepath.Join(fm.RGBPath(serial), "2.png"), "rgb two")
	writeFile(t, filepath.Join(fm.IRPath(serial), "1.png"), "ir one")
	writeFile(t, filepath.Join(fm.ResultsPath(serial), calibrate.ResultFileName), `{"rms": 0.2}`)
	writeFile(t, filepath.Join(fm.LivePath(serial), "notes.txt"), "\x00\x01binary")
}

func newFolderManager(t *testing.T) *FolderManager {
	t.Helper()
	fm, err := NewFolderManager(filepath.Join(t.TempDir(), "calib"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return fm
}

func TestFolderPaths(t *testing.T) {
	_, err := NewFolderManager("", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	fm := newFolderManager(t)
	test.That(t, fm.LivePath("012345"), test.ShouldEqual, filepath.Join(fm.Root(), "012345"))
	test.That(t, fm.RGBPath("012345"), test.ShouldEqual, filepath.Join(fm.Root(), "012345", "RGB"))
	test.That(t, fm.IRPath("012345"), test.ShouldEqual, filepath.Join(fm.Root(), "012345", "IR"))
	test.That(t, fm.ResultsPath("012345"), test.ShouldEqual, filepath.Join(fm.Root(), "012345", "calibration_results"))
	test.That(t, fm.BackupPath("012345"), test.ShouldNotEqual, fm.LivePath("012345"))

	for _, serial := range []string{"", ".", "..", "a/b", `a\b`, "x" + backupSuffix} {
		_, err := fm.Stage(serial, true, true)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, fm.Restore(serial), test.ShouldNotBeNil)
		test.That(t, fm.DiscardBackup(serial), test.ShouldNotBeNil)
		test.That(t, fm.IsCalibrated(serial), test.ShouldBeFalse)
	}
}

func TestStage(t *testing.T) {
	t.Run("fresh", func(t *testing.T) {
		fm := newFolderManager(t)
		backedUp, err := fm.Stage("a", false, true)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, backedUp, test.ShouldBeFalse)
		test.That(t, snapshotTree(t, fm.LivePath("a")), test.ShouldResemble, map[string]string{
			".": "/", "RGB": "/", "IR": "/", "calibration_results": "/",
		})
		test.That(t, fm.IsCalibrated("a"), test.ShouldBeFalse)
	})

	t.Run("backup", func(t *testing.T) {
		fm := newFolderManager(t)
		seedCalibration(t, fm, "a")
		before := snapshotTree(t, fm.LivePath("a"))
		test.That(t, fm.IsCalibrated("a"), test.ShouldBeTrue)

		backedUp, err := fm.Stage("a", true, true)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, backedUp, test.ShouldBeTrue)
		test.That(t, snapshotTree(t, fm.BackupPath("a")), test.ShouldResemble, before)
		test.That(t, snapshotTree(t, fm.LivePath("a")), test.ShouldHaveLength, 4)

		test.That(t, fm.DiscardBackup("a"), test.ShouldBeNil)
		_, err = os.Stat(fm.BackupPath("a"))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
		test.That(t, fm.DiscardBackup("a"), test.ShouldBeNil)
	})

	t.Run("reset", func(t *testing.T) {
		fm := newFolderManager(t)
		seedCalibration(t, fm, "a")
		backedUp, err := fm.Stage("a", true, false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, backedUp, test.ShouldBeFalse)
		test.That(t, snapshotTree(t, fm.LivePath("a")), test.ShouldHaveLength, 4)
		_, err = os.Stat(fm.BackupPath("a"))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	})

	t.Run("keep", func(t *testing.T) {
		fm := newFolderManager(t)
		seedCalibration(t, fm, "a")
		before := snapshotTree(t, fm.LivePath("a"))
		_, err := fm.Stage("a", false, false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, snapshotTree(t, fm.LivePath("a")), test.ShouldResemble, before)
	})

	t.Run("stale backup", func(t *testing.T) {
		fm := newFolderManager(t)
		writeFile(t, filepath.Join(fm.BackupPath("a"), "RGB", "9.png"), "crashed session")
		seedCalibration(t, fm, "a")
		before := snapshotTree(t, fm.LivePath("a"))

		backedUp, err := fm.Stage("a", true, true)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, backedUp, test.ShouldBeTrue)
		// the stale backup was replaced, not merged
		test.That(t, snapshotTree(t, fm.BackupPath("a")), test.ShouldResemble, before)

		// a stale backup without a live folder is dropped as well
		test.That(t, os.RemoveAll(fm.LivePath("a")), test.ShouldBeNil)
		backedUp, err = fm.Stage("a", false, true)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, backedUp, test.ShouldBeFalse)
		info, err := os.Stat(fm.BackupPath("a"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.IsDir(), test.ShouldBeFalse)
	})
}

func TestRestoreRoundTrip(t *testing.T) {
	fm := newFolderManager(t)
	seedCalibration(t, fm, "012345")
	before := snapshotTree(t, fm.LivePath("012345"))

	_, err := fm.Stage("012345", false, true)
	test.That(t, err, test.ShouldBeNil)
	writeFile(t, filepath.Join(fm.RGBPath("012345"), "3.png"), "new shot")

	test.That(t, fm.Restore("012345"), test.ShouldBeNil)
	after := snapshotTree(t, fm.LivePath("012345"))
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("restored folder differs (-before +after):\n%s", diff)
	}
	_, err = os.Stat(fm.BackupPath("012345"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	// idempotent
	test.That(t, fm.Restore("012345"), test.ShouldBeNil)
	test.That(t, cmp.Diff(before, snapshotTree(t, fm.LivePath("012345"))), test.ShouldBeEmpty)

	t.Run("nothing to back up", func(t *testing.T) {
		_, err := fm.Stage("b", false, true)
		test.That(t, err, test.ShouldBeNil)
		writeFile(t, filepath.Join(fm.RGBPath("b"), "1.png"), "new shot")
		test.That(t, fm.Restore("b"), test.ShouldBeNil)
		_, err = os.Stat(fm.LivePath("b"))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
		_, err = os.Stat(fm.BackupPath("b"))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
		test.That(t, fm.Restore("b"), test.ShouldBeNil)
	})

	t.Run("never staged", func(t *testing.T) {
		seedCalibration(t, fm, "c")
		before := snapshotTree(t, fm.LivePath("c"))
		test.That(t, fm.Restore("c"), test.ShouldBeNil)
		test.That(t, snapshotTree(t, fm.LivePath("c")), test.ShouldResemble, before)
	})
}
