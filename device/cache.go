package device

import (
	"image"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/rimage"
)

// Plane names one of the three planes of a frame set.
type Plane int

// The planes of a frame set.
const (
	Color Plane = iota
	IR
	Depth
	numPlanes
)

func (p Plane) String() string {
	switch p {
	case Color:
		return "color"
	case IR:
		return "ir"
	case Depth:
		return "depth"
	default:
		return "unknown"
	}
}

// IRMax is the largest raw infrared intensity; infrared is normalized by it.
const IRMax = math.MaxUint16

// ErrNoFrame is returned when a plane is requested before any frame set was acquired.
var ErrNoFrame = errors.New("no frame set acquired yet")

// A CachedBuffer is everything derived from one plane of one frame set, mirrored and resized to
// the working resolution. It must not be modified once handed out.
type CachedBuffer struct {
	// Image is ready for display.
	Image image.Image
	// Pixels holds the color plane as RGBA. Nil for the other planes.
	Pixels *image.NRGBA
	// Values holds infrared or depth normalized to [0, 1]. Nil for color.
	Values *rimage.FloatPlane
	// Mask holds integer millimeters with out of range samples set to rimage.DepthSentinel.
	// Only set for depth.
	Mask *rimage.DepthMask
}

// FrameCache lazily derives the cached buffers of the current frame set. Each plane is computed
// at most once per acquisition cycle.
type FrameCache struct {
	width, height      int
	depthMin, depthMax float64

	mu       sync.Mutex
	frames   *depthcamera.FrameSet
	cycle    uint64
	buffers  [numPlanes]*CachedBuffer
	carried  *rimage.DepthMask
	computed [numPlanes]int
}

// NewFrameCache returns an empty cache producing buffers of width x height. Depth samples at or
// beyond depthMin or depthMax are masked.
func NewFrameCache(width, height int, depthMin, depthMax float64) *FrameCache {
	return &FrameCache{width: width, height: height, depthMin: depthMin, depthMax: depthMax}
}

// SetFrameSet starts a new acquisition cycle on fs.
func (c *FrameCache) SetFrameSet(fs *depthcamera.FrameSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
	c.frames = fs
}

// Invalidate drops every cached buffer. The last derived depth mask is kept and returned by
// PreviousDepth until a later cycle derives depth again.
func (c *FrameCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
}

func (c *FrameCache) invalidate() {
	if d := c.buffers[Depth]; d != nil {
		c.carried = d.Mask
	}
	c.buffers = [numPlanes]*CachedBuffer{}
	c.cycle++
}

// Detach forgets the raw frame set before it is released to its source. Buffers already derived
// stay readable; the other planes report ErrNoFrame until the next frame set.
func (c *FrameCache) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// Clear forgets the frame set and everything derived from it.
func (c *FrameCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
	c.frames = nil
	c.carried = nil
}

// Cycle counts acquisition cycles.
func (c *FrameCache) Cycle() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycle
}

// FrameSet returns the raw frame set of the current cycle, or nil.
func (c *FrameCache) FrameSet() *depthcamera.FrameSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// PreviousDepth returns the depth mask of the last earlier cycle that derived depth, or nil.
func (c *FrameCache) PreviousDepth() *rimage.DepthMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.carried
}

// Size returns the working resolution.
func (c *FrameCache) Size() image.Point {
	return image.Pt(c.width, c.height)
}

// Get returns the buffers of plane for the current frame set, deriving them on first use.
func (c *FrameCache) Get(plane Plane) (*CachedBuffer, error) {
	if plane < 0 || plane >= numPlanes {
		return nil, errors.Errorf("unknown plane %d", plane)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.buffers[plane]; b != nil {
		return b, nil
	}
	if c.frames == nil {
		return nil, ErrNoFrame
	}
	var b *CachedBuffer
	switch plane {
	case Color:
		pixels := c.frames.Color.Preprocess(c.width, c.height)
		b = &CachedBuffer{Image: pixels, Pixels: pixels}
	case IR:
		values := c.frames.IR.Preprocess(c.width, c.height, IRMax).Normalize(0, IRMax)
		b = &CachedBuffer{Image: values.ToGray(), Values: values}
	case Depth:
		mm := c.frames.Depth.Preprocess(c.width, c.height, math.MaxUint16)
		values := mm.Normalize(0, c.depthMax)
		b = &CachedBuffer{
			Image:  values.ToGray(),
			Values: values,
			Mask:   rimage.DepthMaskFromPlane(mm, c.depthMin, c.depthMax),
		}
	}
	c.buffers[plane] = b
	c.computed[plane]++
	return b, nil
}

// computations returns how many times plane was derived, for tests.
func (c *FrameCache) computations(plane Plane) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computed[plane]
}
