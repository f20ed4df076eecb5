package device

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/logging"
)

// LoopConfig configures a Loop. Only Switcher is required.
type LoopConfig struct {
	Switcher    *Switcher
	Clock       clock.Clock
	RefreshRate time.Duration
	// Visible reports whether the active device is shown. Frames are only pulled while it returns
	// true; nil means always visible.
	Visible func() bool
	OnFrame func(s *Session, fs *depthcamera.FrameSet)
	// OnError is called with every error but timeouts, which are retried on the next tick.
	OnError func(s *Session, err error)
}

// A Loop pulls frames from the active session of a switcher on every tick of a clock. Ticks never
// overlap, so a session is only ever read from one goroutine.
type Loop struct {
	conf   LoopConfig
	logger logging.Logger

	mu                      sync.Mutex
	refreshRate             time.Duration
	ticker                  *clock.Ticker
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewLoop returns a stopped loop.
func NewLoop(conf LoopConfig, logger logging.Logger) (*Loop, error) {
	if conf.Switcher == nil {
		return nil, errors.New("loop needs a switcher")
	}
	if conf.RefreshRate <= 0 {
		return nil, errors.Errorf("refresh rate must be positive, got %s", conf.RefreshRate)
	}
	if conf.Clock == nil {
		conf.Clock = clock.New()
	}
	return &Loop{conf: conf, logger: logger, refreshRate: conf.RefreshRate}, nil
}

// RefreshRate returns the tick interval.
func (l *Loop) RefreshRate() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshRate
}

// SetRefreshRate changes the tick interval, also while running.
func (l *Loop) SetRefreshRate(d time.Duration) error {
	if d <= 0 {
		return errors.Errorf("refresh rate must be positive, got %s", d)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshRate = d
	if l.ticker != nil {
		l.ticker.Reset(d)
	}
	l.logger.Debugw("refresh rate changed", "interval", d)
	return nil
}

// Start runs the loop until Stop is called or ctx is done.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return errors.New("loop already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	ticker := l.conf.Clock.Ticker(l.refreshRate)
	l.ticker = ticker

	l.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Tick(ctx)
			}
		}
	}, l.activeBackgroundWorkers.Done)
	return nil
}

// Stop stops the loop and waits for the running tick.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, ticker := l.cancel, l.ticker
	l.cancel, l.ticker = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	ticker.Stop()
	l.activeBackgroundWorkers.Wait()
}

// Tick pulls one frame set from the active session if it plays and is visible. It reports
// whether a new frame set was acquired.
func (l *Loop) Tick(ctx context.Context) bool {
	s := l.conf.Switcher.Active()
	if s == nil || !s.Playing() {
		return false
	}
	if l.conf.Visible != nil && !l.conf.Visible() {
		return false
	}
	fs, err := s.GetFrameSet(ctx)
	if err != nil {
		if errors.Is(err, depthcamera.ErrTimeout) {
			l.logger.CDebugw(ctx, "frame timeout", "serial", s.Serial())
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		l.logger.Warnw("cannot get frame set", "serial", s.Serial(), "error", err)
		if l.conf.OnError != nil {
			l.conf.OnError(s, err)
		}
		return false
	}
	if l.conf.OnFrame != nil {
		l.conf.OnFrame(s, fs)
	}
	return true
}
