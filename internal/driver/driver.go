// Package driver composes the reconciliation engine and the sensor
// intake into the node's steady-state loop: one cooperative task per
// channel on a fixed wake period, plus the intake writer. Channels
// share nothing but the persistence index.
package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trustplane/edge/internal/engine"
	"github.com/trustplane/edge/internal/intake"
	"github.com/trustplane/edge/internal/store"
)

// Driver owns the steady-state tasks.
type Driver struct {
	engine   *engine.Engine
	intake   *intake.Service
	channels []store.Channel
	interval time.Duration
	log      *slog.Logger
}

// New assembles a driver over an already bootstrapped node.
func New(eng *engine.Engine, in *intake.Service, channels []store.Channel, interval time.Duration, log *slog.Logger) *Driver {
	if interval == 0 {
		interval = 10 * time.Second
	}
	return &Driver{
		engine:   eng,
		intake:   in,
		channels: channels,
		interval: interval,
		log:      log,
	}
}

// Run blocks until ctx is cancelled. Cycle errors are transient by
// policy: logged, never fatal.
func (d *Driver) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch store.Channel) {
			defer wg.Done()
			d.runChannel(ctx, ch)
		}(ch)
	}

	if d.intake != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.intake.Run(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("intake stopped", "error", err)
			}
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// runChannel cycles one channel until cancellation. The first cycle
// fires immediately; later ones on the wake period.
func (d *Driver) runChannel(ctx context.Context, ch store.Channel) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.cycle(ctx, ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cycle(ctx, ch)
		}
	}
}

func (d *Driver) cycle(ctx context.Context, ch store.Channel) {
	if err := d.engine.Cycle(ctx, ch); err != nil && ctx.Err() == nil {
		d.log.Error("cycle failed", "channel", ch.Key, "error", err)
	}
}
