package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.viam.com/utils"

	"github.com/GiovanniPag/pyNect/logging"
)

// editors usually emit several events per save.
const watchDebounce = 100 * time.Millisecond

// A Watcher reloads a config file whenever it changes on disk and delivers the newest valid
// config. Invalid intermediate states are logged and skipped.
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	logger logging.Logger

	debounced func(f func())
	sendMu    sync.Mutex
	out       chan *Config

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewWatcher starts watching configPath. The directory is watched rather than the file so that
// editors which save by rename are observed.
func NewWatcher(ctx context.Context, configPath string, logger logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		utils.UncheckedError(fsw.Close())
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		utils.UncheckedError(fsw.Close())
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		path:      absPath,
		fsw:       fsw,
		logger:    logger,
		debounced: debounce.New(watchDebounce),
		out:       make(chan *Config, 1),
		cancel:    cancel,
	}
	w.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		w.watch(cancelCtx)
	}, w.activeBackgroundWorkers.Done)
	return w, nil
}

// Config returns the channel on which reloaded configs are delivered. Only the latest unread
// config is kept.
func (w *Watcher) Config() <-chan *Config {
	return w.out
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	w.activeBackgroundWorkers.Wait()
	return err
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.debounced(func() {
				w.reload(ctx)
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := Read(ctx, w.path, w.logger)
	if err != nil {
		w.logger.Warnw("ignoring unreadable config", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config reloaded", "path", w.path, "refresh_rate_ms", cfg.RefreshRateMs)

	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	select {
	case <-w.out:
	default:
	}
	w.out <- cfg
}
