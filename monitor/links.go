package monitor

import (
	"context"

	"github.com/srg/batmon/internal/radio"
	"github.com/srg/batmon/internal/registry"
)

// ensureLink obtains a live LE link for the given device, reusing the cached
// one when it still reports connected. Reuse is the core optimization: most
// cycles touch an already-linked peripheral and must not re-establish an LE
// session every five minutes.
func (p *Plugin) ensureLink(ctx context.Context, id string) (radio.Link, error) {
	rec, ok := p.registry.Get(id)
	if !ok {
		return nil, radio.NewError(radio.CategoryNotFound, "device not in registry", nil)
	}

	if rec.Link != nil {
		if rec.Link.Connected() {
			return rec.Link, nil
		}

		// Stale session: detach it from the record before reconnecting so a
		// dial failure cannot leave a dead handle installed.
		stale := rec.Link
		p.registry.Update(id, func(r *registry.Record) {
			if r.Link == stale {
				r.Link = nil
			}
		})
		p.releaseLink(id, stale)
		p.logger.WithField("device", id).Debug("Cached link went stale, reconnecting")
	}

	addr, err := p.radio.ResolveAddress(ctx, id)
	if err != nil {
		return nil, err
	}

	link, err := p.radio.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	// Install the fresh link, disposing of any handle that slipped in so a
	// single native session per record is all that ever exists.
	var prior radio.Link
	p.registry.Update(id, func(r *registry.Record) {
		prior = r.Link
		r.Link = link
	})
	if prior != nil && prior != link {
		p.releaseLink(id, prior)
	}

	// Shutdown sets Cancelled before its drop pass, so a dial completing
	// mid-shutdown lands on one side or the other: either the drop pass
	// collects the installed link, or we see Cancelled here and dispose of
	// it ourselves.
	p.mu.Lock()
	cancelled := p.state == StateCancelled
	p.mu.Unlock()
	if cancelled {
		var detached bool
		p.registry.Update(id, func(r *registry.Record) {
			if r.Link == link {
				r.Link = nil
				detached = true
			}
		})
		if detached {
			p.releaseLink(id, link)
		}
		return nil, context.Canceled
	}

	return link, nil
}

// releaseLink closes a link handle best-effort
func (p *Plugin) releaseLink(id string, link radio.Link) {
	if err := link.Close(); err != nil {
		p.logger.WithError(err).WithField("device", id).Warn("Error releasing LE link")
	}
}
