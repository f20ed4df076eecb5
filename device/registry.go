// Package device manages the lifecycle of attached depth cameras: sessions that open, stream and
// cache frames from one device, the switcher that keeps a single device streaming and the loop
// that drives acquisition.
package device

import (
	"context"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/config"
)

var (
	// ErrAlreadyOpen is returned by Open on an opened session.
	ErrAlreadyOpen = errors.New("device already open")
	// ErrNotOpen is returned by calls that need an opened session.
	ErrNotOpen = errors.New("device not open")
)

// Options configures sessions.
type Options struct {
	// Preview is the working resolution of the frame cache.
	Preview                image.Point
	DepthMinMm             float64
	DepthMaxMm             float64
	FrameTimeout           time.Duration
	MaxConsecutiveTimeouts int
}

// OptionsFromConfig extracts the session options of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Preview:                image.Pt(cfg.Preview.Width, cfg.Preview.Height),
		DepthMinMm:             cfg.DepthMinMm,
		DepthMaxMm:             cfg.DepthMaxMm,
		FrameTimeout:           cfg.FrameTimeout(),
		MaxConsecutiveTimeouts: cfg.MaxConsecutiveTimeouts,
	}
}

// A Registry remembers the last enumeration of a driver. The position of a serial in it is the
// device ordinal.
type Registry struct {
	driver depthcamera.Driver

	mu         sync.Mutex
	serials    []string
	generation uint64
}

// NewRegistry returns a registry that has not enumerated yet.
func NewRegistry(driver depthcamera.Driver) *Registry {
	return &Registry{driver: driver}
}

// Refresh enumerates the driver again and returns the serials.
func (r *Registry) Refresh(ctx context.Context) ([]string, error) {
	generation := r.driver.Generation()
	serials, err := r.driver.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serials = serials
	r.generation = generation
	return slices.Clone(serials), nil
}

// Generation returns the driver generation read before the last enumeration. Ordinals cannot
// have changed between two enumerations of the same generation.
func (r *Registry) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Serials returns the last enumerated serials.
func (r *Registry) Serials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.serials)
}

// Index returns the ordinal of serial in the last enumeration, or -1.
func (r *Registry) Index(serial string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Index(r.serials, serial)
}
