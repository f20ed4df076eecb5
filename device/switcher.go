package device

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/GiovanniPag/pyNect/logging"
)

// A Switcher holds the single active session. Every change of streaming state goes through it,
// so at most one session plays at any time.
type Switcher struct {
	logger logging.Logger

	mu     sync.Mutex
	active *Session
}

// NewSwitcher returns a switcher with no active session.
func NewSwitcher(logger logging.Logger) *Switcher {
	return &Switcher{logger: logger}
}

// Active returns the session holding the token, or nil.
func (sw *Switcher) Active() *Session {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.active
}

// Switch moves the selection from old to next. When both are set and differ, old is closed. A
// closed next is opened and played, a stopped next is played and a playing next is stopped, so
// selecting the active device again pauses it. Whatever else held the token is closed as well.
func (sw *Switcher) Switch(ctx context.Context, old, next *Session) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	var err error
	if old != nil && next != nil && old != next {
		err = multierr.Append(err, old.Close(ctx))
		if sw.active == old {
			sw.active = nil
		}
	}
	if sw.active != nil && sw.active != next {
		sw.logger.CDebugw(ctx, "closing previous active device", "serial", sw.active.Serial())
		err = multierr.Append(err, sw.active.Close(ctx))
		sw.active = nil
	}
	if next == nil {
		return err
	}

	switch {
	case !next.Opened():
		if openErr := next.Open(ctx); openErr != nil {
			return multierr.Append(err, openErr)
		}
		err = multierr.Append(err, next.Play())
	case !next.Playing():
		err = multierr.Append(err, next.Play())
	default:
		err = multierr.Append(err, next.Stop())
	}
	sw.active = next
	sw.logger.CInfow(ctx, "switched device", "serial", next.Serial(), "playing", next.Playing())
	return err
}

// Release closes the active session and drops the token.
func (sw *Switcher) Release(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.active == nil {
		return nil
	}
	err := sw.active.Close(ctx)
	sw.active = nil
	return err
}
