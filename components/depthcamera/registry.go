package depthcamera

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/GiovanniPag/pyNect/config"
	"github.com/GiovanniPag/pyNect/logging"
)

// A DriverConstructor builds a driver from its source configuration.
type DriverConstructor func(ctx context.Context, conf config.SourceConfig, logger logging.Logger) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]DriverConstructor{}
)

// RegisterDriver registers a driver constructor under a source kind. Drivers call this from init.
func RegisterDriver(kind string, constructor DriverConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[kind]; ok {
		panic(errors.Errorf("trying to register two drivers with same kind %q", kind))
	}
	if constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for kind %q", kind))
	}
	registry[kind] = constructor
}

// RegisteredKinds lists the registered source kinds in sorted order.
func RegisteredKinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := lo.Keys(registry)
	sort.Strings(kinds)
	return kinds
}

// NewDriver builds the driver registered for conf.Kind.
func NewDriver(ctx context.Context, conf config.SourceConfig, logger logging.Logger) (Driver, error) {
	registryMu.RLock()
	constructor, ok := registry[conf.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no driver registered for source kind %q", conf.Kind)
	}
	return constructor(ctx, conf, logger.Sublogger(conf.Kind))
}
