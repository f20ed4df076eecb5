package device

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/logging"
)

// A Session owns the frame source of one device and the cache of its latest frame set. It is
// closed, opened and stopped, or opened and playing; frames are only pulled while playing.
type Session struct {
	serial   string
	driver   depthcamera.Driver
	registry *Registry
	opts     Options
	cache    *FrameCache
	logger   logging.Logger

	mu         sync.Mutex
	source     depthcamera.FrameSource
	ordinal    int
	generation uint64
	playing    bool
	current    *depthcamera.FrameSet
	timeouts   int
}

// NewSession returns a closed session for serial. The ordinal is taken from the last enumeration
// of registry.
func NewSession(
	serial string,
	driver depthcamera.Driver,
	registry *Registry,
	opts Options,
	logger logging.Logger,
) *Session {
	return &Session{
		serial:     serial,
		driver:     driver,
		registry:   registry,
		opts:       opts,
		cache:      NewFrameCache(opts.Preview.X, opts.Preview.Y, opts.DepthMinMm, opts.DepthMaxMm),
		logger:     logger,
		ordinal:    registry.Index(serial),
		generation: registry.Generation(),
	}
}

// Serial returns the device serial.
func (s *Session) Serial() string {
	return s.serial
}

// Cache returns the frame cache of the session.
func (s *Session) Cache() *FrameCache {
	return s.cache
}

// Ordinal returns the position of the device in the enumeration it was last opened from.
func (s *Session) Ordinal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ordinal
}

// Opened reports whether the device is open.
func (s *Session) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil
}

// Playing reports whether frames are being pulled. Playing implies Opened.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Open opens the device and starts its stream, stopped. If the device moved in the enumeration
// since the session last saw it, the freshly opened handle is closed and the device opened again
// so that it is bound to its new position.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		return ErrAlreadyOpen
	}
	if _, err := s.registry.Refresh(ctx); err != nil {
		return errors.Wrap(err, "cannot enumerate devices")
	}
	if s.registry.Index(s.serial) < 0 {
		return depthcamera.NewDeviceUnavailableError(s.serial, "not attached")
	}

	src, err := s.driver.Open(ctx, s.serial)
	if err != nil {
		return err
	}
	ordinal, generation := s.registry.Index(s.serial), s.registry.Generation()
	if s.ordinal < 0 {
		s.ordinal = ordinal
	}
	if generation != s.generation && ordinal != s.ordinal {
		s.logger.CInfow(ctx, "device ordinal changed, reopening", "from", s.ordinal, "to", ordinal)
		s.ordinal = ordinal
		if err := src.Close(ctx); err != nil {
			return err
		}
		if src, err = s.driver.Open(ctx, s.serial); err != nil {
			return err
		}
	}
	if err := src.Start(ctx); err != nil {
		return multierr.Combine(err, src.Close(ctx))
	}
	s.source = src
	s.generation = generation
	s.playing = false
	s.timeouts = 0
	s.logger.CInfow(ctx, "device opened", "ordinal", s.ordinal)
	return nil
}

// Close stops the stream, releases the outstanding frame set and closes the device. Closing a
// closed session does nothing.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close(ctx)
}

func (s *Session) close(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	src := s.source
	s.source = nil
	s.playing = false
	if s.current != nil {
		s.cache.Detach()
		src.Release(s.current)
		s.current = nil
	}
	err := src.Stop(ctx)
	if errors.Is(err, depthcamera.ErrDeviceUnavailable) || errors.Is(err, depthcamera.ErrClosed) {
		err = nil
	}
	err = multierr.Combine(err, src.Close(ctx))
	s.logger.CInfow(ctx, "device closed")
	return err
}

// Play starts pulling frames.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return ErrNotOpen
	}
	s.playing = true
	return nil
}

// Stop stops pulling frames. The last frame set stays cached.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return ErrNotOpen
	}
	s.playing = false
	return nil
}

// GetFrameSet waits for the next frame set while playing, releases the previous one and starts a
// new cache cycle. While stopped it returns the last frame set without waiting. A timeout leaves
// the previous frame set in place; after MaxConsecutiveTimeouts of them the device is closed and
// reported unavailable.
func (s *Session) GetFrameSet(ctx context.Context) (*depthcamera.FrameSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return nil, ErrNotOpen
	}
	if !s.playing {
		if s.current == nil {
			return nil, ErrNoFrame
		}
		return s.current, nil
	}

	fs, err := s.source.WaitForNewFrame(ctx, s.opts.FrameTimeout)
	switch {
	case err == nil:
	case errors.Is(err, depthcamera.ErrTimeout):
		s.timeouts++
		if s.opts.MaxConsecutiveTimeouts > 0 && s.timeouts >= s.opts.MaxConsecutiveTimeouts {
			s.logger.Warnw("too many consecutive frame timeouts, closing device", "timeouts", s.timeouts)
			return nil, multierr.Combine(
				depthcamera.NewDeviceUnavailableError(s.serial, "no frames received"),
				s.close(ctx))
		}
		return nil, err
	case errors.Is(err, depthcamera.ErrDeviceUnavailable):
		s.logger.Warnw("device lost, closing", "error", err)
		return nil, multierr.Combine(err, s.close(ctx))
	default:
		return nil, err
	}

	s.timeouts = 0
	s.cache.SetFrameSet(fs)
	if s.current != nil {
		s.source.Release(s.current)
	}
	s.current = fs
	return fs, nil
}

// SnapshotForCalibration returns the color and infrared planes of the current frame set,
// mirrored like the preview, at the given sizes. Infrared is normalized to 8 bits.
func (s *Session) SnapshotForCalibration(colorSize, irSize image.Point) (image.Image, *image.Gray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, nil, ErrNoFrame
	}
	color := s.current.Color.Preprocess(colorSize.X, colorSize.Y)
	ir := s.current.IR.Preprocess(irSize.X, irSize.Y, IRMax).Normalize(0, IRMax).ToGray()
	return color, ir, nil
}
