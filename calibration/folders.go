// Package calibration runs guided intrinsic calibration captures: it stages the per-device
// capture folder, writes the shots taken from a device session and hands the folder to the
// solver once the quota is reached.
package calibration

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/GiovanniPag/pyNect/logging"
	"github.com/GiovanniPag/pyNect/rimage/calibrate"
)

// Names of the entries of a device calibration folder.
const (
	RGBDir       = "RGB"
	IRDir        = "IR"
	ResultsDir   = "calibration_results"
	backupSuffix = ".backup"
	folderPerm   = 0o750
)

// FolderManager owns the calibration folders under a root, one per device serial. Calls for the
// same serial are serialized.
type FolderManager struct {
	root   string
	logger logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFolderManager returns a manager for root, creating it if needed.
func NewFolderManager(root string, logger logging.Logger) (*FolderManager, error) {
	if root == "" {
		return nil, errors.New("calibration root is empty")
	}
	if err := os.MkdirAll(root, folderPerm); err != nil {
		return nil, errors.Wrap(err, "cannot create calibration root")
	}
	return &FolderManager{root: root, logger: logger, locks: map[string]*sync.Mutex{}}, nil
}

// Root returns the calibration root.
func (fm *FolderManager) Root() string {
	return fm.root
}

// LivePath returns the calibration folder of serial.
func (fm *FolderManager) LivePath(serial string) string {
	return filepath.Join(fm.root, serial)
}

// BackupPath returns where the previous calibration of serial is kept during a capture.
func (fm *FolderManager) BackupPath(serial string) string {
	return filepath.Join(fm.root, serial+backupSuffix)
}

// RGBPath returns the folder of the color shots of serial.
func (fm *FolderManager) RGBPath(serial string) string {
	return filepath.Join(fm.LivePath(serial), RGBDir)
}

// IRPath returns the folder of the infrared shots of serial.
func (fm *FolderManager) IRPath(serial string) string {
	return filepath.Join(fm.LivePath(serial), IRDir)
}

// ResultsPath returns the folder of the calibration result of serial.
func (fm *FolderManager) ResultsPath(serial string) string {
	return filepath.Join(fm.LivePath(serial), ResultsDir)
}

func validSerial(serial string) error {
	if serial == "" || serial == "." || serial == ".." ||
		strings.ContainsAny(serial, `/\`) || strings.HasSuffix(serial, backupSuffix) {
		return errors.Errorf("invalid device serial %q", serial)
	}
	return nil
}

func (fm *FolderManager) lock(serial string) func() {
	fm.mu.Lock()
	l, ok := fm.locks[serial]
	if !ok {
		l = &sync.Mutex{}
		fm.locks[serial] = l
	}
	fm.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Stage prepares an empty capture folder for serial. A backup left by an earlier capture is
// always deleted first. An existing folder is then moved to the backup location when backup is
// set, deleted when reset is set, and kept otherwise. Stage reports whether a folder was backed
// up.
func (fm *FolderManager) Stage(serial string, reset, backup bool) (bool, error) {
	if err := validSerial(serial); err != nil {
		return false, err
	}
	defer fm.lock(serial)()

	live, bak := fm.LivePath(serial), fm.BackupPath(serial)
	if exists(bak) {
		fm.logger.Infow("deleting stale calibration backup", "serial", serial, "path", bak)
		if err := os.RemoveAll(bak); err != nil {
			return false, errors.Wrap(err, "cannot delete stale backup")
		}
	}

	backedUp := false
	switch {
	case backup && exists(live):
		if err := os.Rename(live, bak); err != nil {
			return false, errors.Wrap(err, "cannot back up calibration folder")
		}
		backedUp = true
	case backup:
		// an empty marker file records that there was no folder to restore
		if err := os.WriteFile(bak, nil, 0o600); err != nil {
			return false, errors.Wrap(err, "cannot create calibration backup marker")
		}
	case reset && exists(live):
		if err := os.RemoveAll(live); err != nil {
			return false, errors.Wrap(err, "cannot reset calibration folder")
		}
	}
	for _, dir := range []string{fm.RGBPath(serial), fm.IRPath(serial), fm.ResultsPath(serial)} {
		if err := os.MkdirAll(dir, folderPerm); err != nil {
			return backedUp, errors.Wrap(err, "cannot create calibration folder")
		}
	}
	fm.logger.Debugw("calibration folder staged", "serial", serial, "backup", backedUp)
	return backedUp, nil
}

// Restore undoes a Stage with backup: the current folder of serial is deleted and the backup, if
// there was a folder to back up, is moved back in its place. Without a backup Restore does
// nothing, so restoring twice is harmless.
func (fm *FolderManager) Restore(serial string) error {
	if err := validSerial(serial); err != nil {
		return err
	}
	defer fm.lock(serial)()

	live, bak := fm.LivePath(serial), fm.BackupPath(serial)
	info, err := os.Lstat(bak)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "cannot read calibration backup")
	}
	if err := os.RemoveAll(live); err != nil {
		return errors.Wrap(err, "cannot delete calibration folder")
	}
	if !info.IsDir() {
		return errors.Wrap(os.Remove(bak), "cannot delete calibration backup marker")
	}
	if err := os.Rename(bak, live); err != nil {
		return errors.Wrap(err, "cannot restore calibration backup")
	}
	fm.logger.Infow("calibration folder restored", "serial", serial)
	return nil
}

// DiscardBackup deletes the backup of serial, if any.
func (fm *FolderManager) DiscardBackup(serial string) error {
	if err := validSerial(serial); err != nil {
		return err
	}
	defer fm.lock(serial)()
	return errors.Wrap(os.RemoveAll(fm.BackupPath(serial)), "cannot delete calibration backup")
}

// IsCalibrated reports whether serial has a complete calibration folder with a stored result.
func (fm *FolderManager) IsCalibrated(serial string) bool {
	if validSerial(serial) != nil {
		return false
	}
	defer fm.lock(serial)()
	for _, dir := range []string{fm.RGBPath(serial), fm.IRPath(serial), fm.ResultsPath(serial)} {
		if !isDir(dir) {
			return false
		}
	}
	return exists(filepath.Join(fm.ResultsPath(serial), calibrate.ResultFileName))
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
