package monitor

import (
	"context"
	"errors"
	"time"
)

// tickPeriod is how often the standalone driver wakes up. It sits well below
// any sane refresh interval; RunCycle's gating enforces the configured
// cadence, the ticker just bounds how late a due cycle can start.
const tickPeriod = 30 * time.Second

// Run drives periodic cycles until the context is cancelled. Hosts with their
// own scheduler call RunCycle directly instead.
func (p *Plugin) Run(ctx context.Context) error {
	if err := p.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.WithError(err).Warn("Initial polling cycle failed")
	}

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := p.RunCycle(ctx)
			switch {
			case errors.Is(err, ErrShutDown), errors.Is(err, context.Canceled):
				return err
			case err != nil:
				p.logger.WithError(err).Warn("Polling cycle failed")
			}
		}
	}
}
