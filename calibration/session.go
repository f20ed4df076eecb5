package calibration

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Modality is how shots are triggered during a capture.
type Modality string

// The capture modalities.
const (
	ModalityManual Modality = "manual"
	ModalityTimed  Modality = "timed"
)

// ParseModality validates a modality name.
func ParseModality(name string) (Modality, error) {
	switch m := Modality(name); m {
	case ModalityManual, ModalityTimed:
		return m, nil
	default:
		return "", errors.Errorf("unknown capture modality %q", name)
	}
}

// Session describes one capture in progress.
type Session struct {
	ID       uuid.UUID
	Serial   string
	Modality Modality
	Quota    int
	// Remaining counts the shots still to take. It also names the next shot.
	Remaining int
	StagePath string
	// BackupPath is empty when there was no earlier calibration to back up.
	BackupPath string
	StartedAt  time.Time
}

// Taken returns the number of shots already taken.
func (s Session) Taken() int {
	return s.Quota - s.Remaining
}
