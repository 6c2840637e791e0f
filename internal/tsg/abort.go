package tsg

import (
	"context"
	"fmt"

	tcontext "github.com/tsgd/tsgd/pkg/context"
	"github.com/tsgd/tsgd/pkg/logger"
)

// Abort stops the group. With preempt set the group is preempted first; a
// preemption failure is returned but every bound channel is still cleaned up
// and marked unserviceable.
func (g *Group) Abort(ctx context.Context, preempt bool) (err error) {
	ctx = tcontext.WithOperation(tcontext.Enrich(ctx), "abort")
	m := g.mgr
	log := logger.WithContext(ctx, m.log)

	if g.dead.Load() {
		return g.errReleased()
	}
	if !g.abortable.Load() {
		log.Debug("Abort refused", logger.WithField("tsgid", g.id))
		return fmt.Errorf("%w: tsg %d", ErrNotAbortable, g.id)
	}

	defer func() { m.metrics.Abort(err) }()

	g.aborting.Store(true)
	defer g.aborting.Store(false)

	var preemptErr error
	if preempt {
		preemptErr = g.preempt(ctx)
	}

	g.chMu.RLock()
	n := len(g.channels)
	for _, ch := range g.channels {
		ch.SetUnserviceable(true)
		m.deps.Channels.AbortCleanUp(ch.ID())
	}
	g.chMu.RUnlock()

	if preemptErr != nil {
		log.Error("Preempt during abort failed",
			logger.WithField("tsgid", g.id),
			logger.WithError(preemptErr))
		return preemptErr
	}

	log.Info("Group aborted",
		logger.WithField("tsgid", g.id),
		logger.WithField("channels", n),
		logger.WithField("preempt", preempt))
	return nil
}
