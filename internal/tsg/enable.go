package tsg

import (
	"github.com/tsgd/tsgd/pkg/logger"
)

// Enable makes every bound channel runnable and rings the doorbell on the
// last one. No-op for an empty group.
func (g *Group) Enable() {
	g.chMu.RLock()
	defer g.chMu.RUnlock()

	ops := g.mgr.deps.Channels
	var last uint32
	n := 0
	for _, ch := range g.channels {
		ops.Enable(ch.ID())
		last = ch.ID()
		n++
	}
	if n > 0 {
		g.ringDoorbell(last, g.mgr.log)
	}
}

// Disable stops every bound channel from being scheduled
func (g *Group) Disable() {
	g.chMu.RLock()
	defer g.chMu.RUnlock()

	ops := g.mgr.deps.Channels
	for _, ch := range g.channels {
		ops.Disable(ch.ID())
	}
}

// disableLocked disables every member and returns the set that was enabled.
// Caller holds chMu.
func (g *Group) disableLocked() map[uint32]bool {
	ops := g.mgr.deps.Channels
	enabled := make(map[uint32]bool, len(g.channels))
	for _, ch := range g.channels {
		if hw, err := ops.ReadState(ch.ID()); err == nil && hw.Enabled {
			enabled[ch.ID()] = true
		}
		ops.Disable(ch.ID())
	}
	return enabled
}

// reenableLocked enables the members listed in enabled. Caller holds chMu.
func (g *Group) reenableLocked(enabled map[uint32]bool, log logger.Logger) {
	ops := g.mgr.deps.Channels
	var last uint32
	n := 0
	for _, ch := range g.channels {
		if enabled[ch.ID()] {
			ops.Enable(ch.ID())
			last = ch.ID()
			n++
		}
	}
	if n > 0 {
		g.ringDoorbell(last, log)
	}
}

func (g *Group) ringDoorbell(chid uint32, log logger.Logger) {
	if err := g.mgr.deps.Scheduler.RingDoorbell(chid); err != nil {
		log.Warn("Doorbell failed",
			logger.WithField("tsgid", g.id),
			logger.WithField("chid", chid),
			logger.WithError(err))
	}
}
