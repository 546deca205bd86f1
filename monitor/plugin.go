package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/batmon/internal/config"
	"github.com/srg/batmon/internal/gatt"
	"github.com/srg/batmon/internal/radio"
	"github.com/srg/batmon/internal/registry"
	"github.com/srg/batmon/internal/sensors"
)

// ErrShutDown is returned by RunCycle after Shutdown has been observed.
var ErrShutDown = errors.New("monitor is shut down")

// releaseTimeout bounds the shutdown link-release step. A non-responsive
// peripheral gets a warning, not an unbounded wait.
const releaseTimeout = 3 * time.Second

// State tracks the scheduler lifecycle per plugin instance
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCancelled
)

// Plugin is the host-facing entry point of the battery monitor: the host
// calls Initialize once, RunCycle on its own schedule, and Shutdown at the
// end. Cycle gating, per-device sequencing, and link caching all live here.
type Plugin struct {
	cfg      *config.Config
	logger   *logrus.Logger
	radio    radio.Radio
	registry *registry.Registry
	sensors  *sensors.Store
	reader   *gatt.Reader
	retry    retryPolicy

	mu             sync.Mutex
	state          State
	lastCycleStart time.Time
	cycleCancel    context.CancelFunc
	cycleDone      chan struct{}
}

// New creates a plugin instance bound to a platform radio
func New(cfg *config.Config, r radio.Radio, logger *logrus.Logger) *Plugin {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	return &Plugin{
		cfg:      cfg,
		logger:   logger,
		radio:    r,
		registry: registry.New(logger),
		sensors:  sensors.NewStore(),
		reader:   gatt.NewReader(logger),
		retry:    defaultRetryPolicy(),
	}
}

// Sensors exposes the display-field store read by the host's display layer.
func (p *Plugin) Sensors() *sensors.Store {
	return p.sensors
}

// Initialize discovers paired peripherals and creates their records and
// display fields. Discovery failure is non-fatal: the monitor loads with an
// empty device list rather than aborting plugin load.
func (p *Plugin) Initialize(ctx context.Context) error {
	return p.loadDevices(ctx)
}

// Rescan re-runs discovery and replaces the whole device set. This is the
// only way records are added or removed; a failed cycle never changes the
// key set.
func (p *Plugin) Rescan(ctx context.Context) error {
	return p.loadDevices(ctx)
}

func (p *Plugin) loadDevices(ctx context.Context) error {
	peripherals, err := p.radio.PairedPeripherals(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Paired-device discovery failed, loading empty device list")
		peripherals = nil
	}

	named := peripherals[:0]
	for _, per := range peripherals {
		if per.Name == "" {
			continue
		}
		named = append(named, per)
	}

	dropped := p.registry.Load(named)
	for _, link := range dropped {
		p.releaseLink("", link)
	}

	ids := p.registry.IDs()
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if rec, ok := p.registry.Get(id); ok {
			names[id] = rec.DisplayName
		}
	}
	p.sensors.Reset(ids, names)

	p.logger.WithField("devices", len(ids)).Info("Device registry loaded")
	return nil
}

// RunCycle performs one polling sweep over all registered devices. Cycles
// started before the configured interval has elapsed since the previous
// cycle's start return without touching the platform. Devices are processed
// sequentially: BLE stacks throttle concurrent GATT traffic across
// peripherals, and parallel polling produces spurious unreachable errors.
func (p *Plugin) RunCycle(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateCancelled:
		p.mu.Unlock()
		return ErrShutDown
	case StateRunning:
		p.mu.Unlock()
		p.logger.Debug("Cycle already in progress, skipping")
		return nil
	}
	if !p.lastCycleStart.IsZero() && time.Since(p.lastCycleStart) < p.cfg.RefreshInterval() {
		p.mu.Unlock()
		p.logger.Debug("Refresh interval not elapsed, skipping cycle")
		return nil
	}
	p.state = StateRunning
	p.lastCycleStart = time.Now()
	cycleCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cycleCancel = cancel
	p.cycleDone = done
	p.mu.Unlock()
	defer cancel()

	err := p.sweep(cycleCtx)

	p.mu.Lock()
	if p.state == StateRunning {
		p.state = StateIdle
	}
	p.cycleCancel = nil
	p.cycleDone = nil
	p.mu.Unlock()
	close(done)

	return err
}

// sweep visits every device in registry snapshot order. Results for device N
// are fully committed before device N+1 begins; cancellation is observed
// between devices.
func (p *Plugin) sweep(ctx context.Context) error {
	ids := p.registry.IDs()
	p.logger.WithField("devices", len(ids)).Debug("Starting polling cycle")

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			p.logger.Info("Polling cycle cancelled")
			return err
		}
		p.updateDevice(ctx, id)
	}
	return nil
}

// updateDevice runs the retry-wrapped connect-and-read attempt for one device
// and commits the outcome. One device's failure never aborts the cycle for
// the others.
func (p *Plugin) updateDevice(ctx context.Context, id string) {
	var percent int
	err := p.retry.run(ctx, func(ctx context.Context) error {
		link, err := p.ensureLink(ctx, id)
		if err != nil {
			return err
		}
		value, err := p.reader.ReadBattery(ctx, link)
		if err != nil {
			return err
		}
		percent = value
		return nil
	})

	if err == nil {
		p.logger.WithFields(logrus.Fields{
			"device":  id,
			"battery": percent,
		}).Debug("Battery read succeeded")
		p.commit(id, registry.StatusConnected, percent, false)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Record stays as the previous cycle left it.
		return
	}

	verdict := classify(err)
	p.logger.WithFields(logrus.Fields{
		"device":   id,
		"category": radio.CategoryOf(err),
		"error":    err,
	}).Warn("Device update failed")
	p.commit(id, verdict.status, 0, verdict.breaksLink)
}

// commit atomically applies a cycle outcome to the record and publishes it to
// the display fields. The link, if discarded, is released outside the
// registry lock.
func (p *Plugin) commit(id string, status registry.Status, percent int, dropLink bool) {
	var dropped radio.Link
	ok := p.registry.Update(id, func(r *registry.Record) {
		r.Status = status
		r.BatteryPercent = percent
		if dropLink {
			dropped = r.Link
			r.Link = nil
		}
	})
	if !ok {
		return
	}
	if dropped != nil {
		p.releaseLink(id, dropped)
	}

	p.sensors.Publish(id, status.String(), percent)
}

// Shutdown cancels any in-flight cycle and releases every cached link. The
// release is best-effort and bounded; stragglers are logged and abandoned.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.state = StateCancelled
	cancel := p.cycleCancel
	done := p.cycleDone
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait for the in-flight cycle to observe the cancellation before
	// collecting links: a dial that completes mid-shutdown would otherwise
	// install a link the drop pass never saw.
	if done != nil {
		select {
		case <-done:
		case <-time.After(releaseTimeout):
			p.logger.Warn("Timed out waiting for in-flight cycle to stop")
		case <-ctx.Done():
			p.logger.Warn("Shutdown cancelled while waiting for in-flight cycle")
		}
	}

	links := p.registry.DropLinks()
	if len(links) == 0 {
		p.logger.Info("Monitor shut down")
		return nil
	}

	var wg sync.WaitGroup
	for _, link := range links {
		wg.Add(1)
		go func(l radio.Link) {
			defer wg.Done()
			if err := l.Close(); err != nil {
				p.logger.WithError(err).Warn("Error releasing LE link at shutdown")
			}
		}(link)
	}

	released := make(chan struct{})
	go func() {
		wg.Wait()
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(releaseTimeout):
		p.logger.Warn("Timed out releasing LE links, continuing shutdown")
	case <-ctx.Done():
		p.logger.Warn("Shutdown cancelled while releasing LE links")
	}

	p.logger.WithField("links", len(links)).Info("Monitor shut down")
	return nil
}
