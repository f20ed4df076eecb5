package calibration

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/GiovanniPag/pyNect/logging"
)

// TimedRunner takes a shot on every tick of a clock until the capture is over.
type TimedRunner struct {
	clock    clock.Clock
	interval time.Duration
	logger   logging.Logger

	cancel context.CancelFunc
}

func newTimedRunner(clk clock.Clock, interval time.Duration, logger logging.Logger) *TimedRunner {
	return &TimedRunner{clock: clk, interval: interval, logger: logger}
}

// start calls shoot every interval. shoot returns the shots left; the runner ends when none are
// left or the capture is no longer waiting for timed shots.
func (r *TimedRunner) start(ctx context.Context, wg *sync.WaitGroup, shoot func(context.Context) (int, error)) {
	ctx, r.cancel = context.WithCancel(ctx)
	ticker := r.clock.Ticker(r.interval)
	wg.Add(1)
	utils.ManagedGo(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			remaining, err := shoot(ctx)
			switch {
			case errors.Is(err, ErrInvalidState):
				return
			case err != nil && remaining == 0:
				// the capture was solved and failed; the controller reported it
				return
			case err != nil:
				r.logger.Warnw("timed calibration shot failed", "error", err)
			case remaining == 0:
				return
			}
		}
	}, wg.Done)
}

// stop ends the runner without waiting for a shot in progress.
func (r *TimedRunner) stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
