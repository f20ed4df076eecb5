package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/GiovanniPag/pyNect/calibration"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	accentColor  = color.New(color.FgCyan)
)

// printf prints a line to w, adding the trailing newline if missing.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, withNewline(format), a...)
}

// warningf prints a highlighted warning to w.
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	warningColor.Fprint(w, "Warning: ")
	printf(w, format, a...)
}

// successf prints a highlighted success line to w.
func successf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	successColor.Fprintf(w, withNewline(format), a...)
}

func withNewline(format string) string {
	if strings.HasSuffix(format, "\n") {
		return format
	}
	return format + "\n"
}

// eventColor is the color of the line reporting a controller event.
func eventColor(kind calibration.EventKind) *color.Color {
	switch kind {
	case calibration.EventCompleted:
		return successColor
	case calibration.EventFailed:
		return errorColor
	case calibration.EventCancelled:
		return warningColor
	case calibration.EventStarted, calibration.EventShotTaken, calibration.EventSolving:
		return accentColor
	default:
		return accentColor
	}
}

// printEvent prints a one line summary of a controller event.
func printEvent(w io.Writer, ev calibration.Event) {
	s := ev.Session
	var line string
	switch ev.Kind {
	case calibration.EventStarted:
		line = fmt.Sprintf("%s capture of %s started, %d shots to take", s.Modality, s.Serial, s.Quota)
	case calibration.EventShotTaken:
		line = fmt.Sprintf("shot %d of %d taken", s.Taken(), s.Quota)
	case calibration.EventSolving:
		line = fmt.Sprintf("solving the calibration of %s", s.Serial)
	case calibration.EventCompleted:
		line = fmt.Sprintf("calibration of %s completed, RMS error %.4f px over %d views",
			s.Serial, ev.Result.RMS, len(ev.Result.Views))
	case calibration.EventFailed:
		line = fmt.Sprintf("calibration of %s failed: %v", s.Serial, ev.Err)
	case calibration.EventCancelled:
		line = fmt.Sprintf("capture of %s cancelled after %d shots", s.Serial, s.Taken())
	default:
		line = ev.Kind.String()
	}
	//nolint:errcheck
	eventColor(ev.Kind).Fprintln(w, line)
}
