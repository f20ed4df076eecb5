package fake

import (
	"context"
	"sync"
	"time"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
)

// Source is an opened synthetic device. Reads never block: a frame set is rendered on demand and
// injected timeouts fail immediately.
type Source struct {
	driver *Driver
	serial string

	mu          sync.Mutex
	started     bool
	closed      bool
	unplugged   bool
	sequence    uint64
	outstanding map[*depthcamera.FrameSet]struct{}
}

// Serial implements depthcamera.FrameSource.
func (s *Source) Serial() string {
	return s.serial
}

// Start implements depthcamera.FrameSource.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop implements depthcamera.FrameSource.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return depthcamera.ErrClosed
	}
	s.started = false
	return nil
}

func (s *Source) usable() error {
	if s.closed {
		return depthcamera.ErrClosed
	}
	if s.unplugged {
		return depthcamera.NewDeviceUnavailableError(s.serial, "unplugged")
	}
	return nil
}

// WaitForNewFrame implements depthcamera.FrameSource.
func (s *Source) WaitForNewFrame(ctx context.Context, timeout time.Duration) (*depthcamera.FrameSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.usable(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !s.started {
		s.mu.Unlock()
		return nil, depthcamera.ErrNotStarted
	}
	s.mu.Unlock()

	if s.driver.takeTimeout(s.serial) {
		return nil, depthcamera.ErrTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sequence
	s.sequence++
	f, err := s.driver.scene.frame(poseIndex(seq))
	if err != nil {
		return nil, err
	}
	fs := &depthcamera.FrameSet{Sequence: seq, Timestamp: s.driver.clock.Now()}
	fs.Color, fs.IR, fs.Depth = f.copyFrame()
	s.outstanding[fs] = struct{}{}
	return fs, nil
}

// Release implements depthcamera.FrameSource. Releasing a frame set twice is a no-op.
func (s *Source) Release(fs *depthcamera.FrameSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outstanding, fs)
}

// Close implements depthcamera.FrameSource.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.started = false
	s.mu.Unlock()
	s.driver.forget(s)
	s.driver.logger.Debugw("closed device", "serial", s.serial)
	return nil
}

func (s *Source) unplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unplugged = true
	s.started = false
}

func (s *Source) outstandingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}
