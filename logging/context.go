package logging

import "context"

type captureKeyType int

const captureKey = captureKeyType(iota)

// WithCapture returns a context whose context aware log calls (`CDebugw`, `CInfow`) carry a
// `capture` field set to id, so every line of one calibration capture can be found by its id.
func WithCapture(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, captureKey, id)
}

// CaptureID returns the capture id attached by WithCapture, or "".
func CaptureID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(captureKey).(string)
	return id
}
