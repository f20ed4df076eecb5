package device

import (
	"context"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/GiovanniPag/pyNect/components/depthcamera"
	"github.com/GiovanniPag/pyNect/logging"
)

// Manager owns a session for every device the driver has reported during the run. Devices are
// never forgotten; a device that disappears keeps its session and fails to open.
type Manager struct {
	driver   depthcamera.Driver
	registry *Registry
	switcher *Switcher
	opts     Options
	logger   logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
}

// NewManager enumerates the driver and creates a closed session per device.
func NewManager(ctx context.Context, driver depthcamera.Driver, opts Options, logger logging.Logger) (*Manager, error) {
	m := &Manager{
		driver:   driver,
		registry: NewRegistry(driver),
		switcher: NewSwitcher(logger.Sublogger("switcher")),
		opts:     opts,
		logger:   logger,
		sessions: map[string]*Session{},
	}
	serials, err := m.Rescan(ctx)
	if err != nil {
		return nil, err
	}
	if len(serials) == 0 {
		logger.Warn("no devices found")
	} else {
		logger.Infow("devices found", "count", len(serials), "serials", serials)
	}
	return m, nil
}

// Rescan enumerates the driver again, adds sessions for new devices and returns the attached
// serials.
func (m *Manager) Rescan(ctx context.Context) ([]string, error) {
	serials, err := m.registry.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, serial := range lo.Without(serials, m.order...) {
		m.sessions[serial] = NewSession(serial, m.driver, m.registry, m.opts, m.logger.Sublogger(serial))
		m.order = append(m.order, serial)
	}
	return serials, nil
}

// Registry returns the enumeration shared by the sessions.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Switcher returns the switcher of the managed sessions.
func (m *Manager) Switcher() *Switcher {
	return m.switcher
}

// Session returns the session of serial.
func (m *Manager) Session(serial string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[serial]
	return s, ok
}

// Sessions returns every session in discovery order.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Map(m.order, func(serial string, _ int) *Session {
		return m.sessions[serial]
	})
}

// Close closes every session and the driver.
func (m *Manager) Close(ctx context.Context) error {
	err := m.switcher.Release(ctx)
	for _, s := range m.Sessions() {
		err = multierr.Combine(err, s.Close(ctx))
	}
	return multierr.Combine(err, m.driver.Close(ctx))
}
