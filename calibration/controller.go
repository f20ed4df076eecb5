package calibration

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/GiovanniPag/pyNect/logging"
	"github.com/GiovanniPag/pyNect/rimage/calibrate"
)

var (
	// ErrInvalidState is returned by operations that are not allowed in the current state.
	ErrInvalidState = errors.New("operation not allowed in the current calibration state")
	// ErrInvalidQuota is returned by Start when the frame quota is not positive.
	ErrInvalidQuota = errors.New("frame quota must be positive")
)

// State is the state of a Controller.
type State int

// The controller states.
const (
	Idle State = iota
	AwaitingManualShot
	AwaitingTimedShot
	Solving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingManualShot:
		return "awaiting manual shot"
	case AwaitingTimedShot:
		return "awaiting timed shot"
	case Solving:
		return "solving"
	default:
		return "unknown"
	}
}

// EventKind tells what an Event reports.
type EventKind int

// The controller events.
const (
	EventStarted EventKind = iota
	EventShotTaken
	EventSolving
	EventCompleted
	EventFailed
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventShotTaken:
		return "shot taken"
	case EventSolving:
		return "solving"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event reports a transition of a capture.
type Event struct {
	Kind    EventKind
	Session Session
	// Result is set on EventCompleted.
	Result *calibrate.Result
	// Err is set on EventFailed.
	Err error
}

// A Solver turns a folder of color shots into a calibration stored in resultsDir.
// *calibrate.Solver is one.
type Solver interface {
	Solve(ctx context.Context, imagesDir, resultsDir string) (*calibrate.Result, error)
}

// ControllerConfig holds the collaborators of a Controller.
type ControllerConfig struct {
	Folders *FolderManager
	Writer  *Writer
	Solver  Solver
	// Devices resolves a serial to the device shots are taken from.
	Devices func(serial string) (FrameSnapshotter, error)
	// Clock drives timed captures. Defaults to the wall clock.
	Clock clock.Clock
	// TimedInterval is the delay between timed shots. Zero leaves triggering timed shots to the
	// caller.
	TimedInterval time.Duration
}

// Controller runs one capture at a time. Its operations are serialized, and a capture whose last
// shot is taken is solved before the call returns. Event handlers are called synchronously and
// must not call back into the controller.
type Controller struct {
	conf   ControllerConfig
	logger logging.Logger

	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	session *Session
	source  FrameSnapshotter
	runner  *TimedRunner

	subMu    sync.Mutex
	nextSub  int
	handlers map[int]func(Event)

	closeCtx                context.Context
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewController returns an idle controller.
func NewController(conf ControllerConfig, logger logging.Logger) (*Controller, error) {
	if conf.Folders == nil || conf.Writer == nil || conf.Solver == nil || conf.Devices == nil {
		return nil, errors.New("controller needs folders, writer, solver and devices")
	}
	if conf.TimedInterval < 0 {
		return nil, errors.Errorf("timed interval must not be negative, got %s", conf.TimedInterval)
	}
	if conf.Clock == nil {
		conf.Clock = clock.New()
	}
	closeCtx, cancel := context.WithCancel(context.Background())
	return &Controller{
		conf:     conf,
		logger:   logger,
		handlers: map[int]func(Event){},
		closeCtx: closeCtx,
		cancel:   cancel,
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the capture in progress.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Subscribe registers fn for every following event and returns a function that removes it.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.handlers[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.handlers, id)
	}
}

func (c *Controller) emit(ev Event) {
	c.subMu.Lock()
	handlers := make([]func(Event), 0, len(c.handlers))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.handlers[i]; ok {
			handlers = append(handlers, fn)
		}
	}
	c.subMu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Start stages a fresh capture folder for serial, backing up the previous one, and waits for
// quota shots. Timed captures take their shots on their own when a timed interval is configured.
func (c *Controller) Start(ctx context.Context, serial string, modality Modality, quota int) (Session, error) {
	if quota <= 0 {
		return Session{}, errors.Wrapf(ErrInvalidQuota, "got %d", quota)
	}
	if _, err := ParseModality(string(modality)); err != nil {
		return Session{}, err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if state := c.State(); state != Idle {
		return Session{}, errors.Wrapf(ErrInvalidState, "cannot start while %s", state)
	}
	src, err := c.conf.Devices(serial)
	if err != nil {
		return Session{}, err
	}
	backedUp, err := c.conf.Folders.Stage(serial, true, true)
	if err != nil {
		return Session{}, err
	}

	session := &Session{
		ID:        uuid.New(),
		Serial:    serial,
		Modality:  modality,
		Quota:     quota,
		Remaining: quota,
		StagePath: c.conf.Folders.LivePath(serial),
		StartedAt: c.conf.Clock.Now(),
	}
	if backedUp {
		session.BackupPath = c.conf.Folders.BackupPath(serial)
	}
	state := AwaitingManualShot
	if modality == ModalityTimed {
		state = AwaitingTimedShot
	}

	c.mu.Lock()
	c.state = state
	c.session = session
	c.source = src
	if modality == ModalityTimed && c.conf.TimedInterval > 0 {
		c.runner = newTimedRunner(c.conf.Clock, c.conf.TimedInterval, c.logger)
		c.runner.start(c.closeCtx, &c.activeBackgroundWorkers, func(ctx context.Context) (int, error) {
			return c.takeShot(ctx, AwaitingTimedShot, session.ID)
		})
	}
	started := *session
	c.mu.Unlock()

	c.logger.CInfow(logging.WithCapture(ctx, session.ID.String()), "calibration capture started",
		"serial", serial, "modality", modality, "quota", quota)
	c.emit(Event{Kind: EventStarted, Session: started})
	return started, nil
}

// TakeManualShot writes the current frames of the device as the next shot of a manual capture
// and returns how many shots remain. The last shot solves the capture.
func (c *Controller) TakeManualShot(ctx context.Context) (int, error) {
	return c.takeShot(ctx, AwaitingManualShot, uuid.Nil)
}

// TakeTimedShot is TakeManualShot for timed captures.
func (c *Controller) TakeTimedShot(ctx context.Context) (int, error) {
	return c.takeShot(ctx, AwaitingTimedShot, uuid.Nil)
}

// takeShot takes a shot in state want. A non nil id restricts it to that session.
func (c *Controller) takeShot(ctx context.Context, want State, id uuid.UUID) (int, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	state, session, src := c.state, c.session, c.source
	c.mu.Unlock()
	if state != want || (id != uuid.Nil && session.ID != id) {
		return 0, errors.Wrapf(ErrInvalidState, "cannot take a shot while %s", state)
	}
	ctx = logging.WithCapture(ctx, session.ID.String())

	folders := c.conf.Folders
	if err := c.conf.Writer.Capture(src, folders.RGBPath(session.Serial), folders.IRPath(session.Serial),
		session.Remaining); err != nil {
		return session.Remaining, err
	}
	c.mu.Lock()
	session.Remaining--
	remaining := session.Remaining
	snapshot := *session
	c.mu.Unlock()
	c.logger.CDebugw(ctx, "calibration shot taken", "serial", session.Serial, "remaining", remaining)
	c.emit(Event{Kind: EventShotTaken, Session: snapshot})
	if remaining > 0 {
		return remaining, nil
	}
	return 0, c.solve(ctx, snapshot)
}

// solve makes the capture permanent and calibrates from it. The controller is idle afterwards
// whatever the outcome.
func (c *Controller) solve(ctx context.Context, session Session) error {
	defer func() {
		c.mu.Lock()
		c.state = Idle
		c.session = nil
		c.source = nil
		c.runner = nil
		c.mu.Unlock()
	}()

	folders := c.conf.Folders
	if err := folders.DiscardBackup(session.Serial); err != nil {
		c.emit(Event{Kind: EventFailed, Session: session, Err: err})
		return err
	}
	c.setState(Solving)
	c.emit(Event{Kind: EventSolving, Session: session})

	result, err := c.conf.Solver.Solve(ctx, folders.RGBPath(session.Serial), folders.ResultsPath(session.Serial))
	if err != nil {
		c.logger.Warnw("calibration failed", "serial", session.Serial, "capture", session.ID.String(), "error", err)
		c.emit(Event{Kind: EventFailed, Session: session, Err: err})
		return errors.Wrap(err, "calibration failed")
	}
	c.logger.CInfow(ctx, "calibration completed", "serial", session.Serial, "rms", result.RMS)
	c.emit(Event{Kind: EventCompleted, Session: session, Result: result})
	return nil
}

// Cancel abandons the capture in progress. With restore the folder is rolled back to the backup
// taken by Start; otherwise the shots taken so far are kept. When the rollback fails the capture
// stays in progress so that Cancel can be retried.
func (c *Controller) Cancel(ctx context.Context, restore bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	state, session, runner := c.state, c.session, c.runner
	c.mu.Unlock()
	if state == Idle {
		return errors.Wrap(ErrInvalidState, "no calibration capture in progress")
	}
	if runner != nil {
		runner.stop()
	}
	if restore {
		if err := c.conf.Folders.Restore(session.Serial); err != nil {
			return err
		}
	}

	c.mu.Lock()
	snapshot := *session
	c.state = Idle
	c.session = nil
	c.source = nil
	c.runner = nil
	c.mu.Unlock()
	c.logger.CInfow(logging.WithCapture(ctx, snapshot.ID.String()), "calibration capture cancelled",
		"serial", snapshot.Serial, "restored", restore)
	c.emit(Event{Kind: EventCancelled, Session: snapshot})
	return nil
}

// Close stops any timed capture and waits for it. A capture in progress is left as is.
func (c *Controller) Close() {
	c.cancel()
	c.activeBackgroundWorkers.Wait()
}
