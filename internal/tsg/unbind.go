package tsg

import (
	"context"
	"fmt"

	"github.com/tsgd/tsgd/internal/channel"
	tcontext "github.com/tsgd/tsgd/pkg/context"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

// UnbindChannel removes ch from the group. The group is preempted first;
// channels that were runnable before the call are runnable again after it,
// except ch, which is left disabled on success. An empty group is not torn
// down.
func (g *Group) UnbindChannel(ctx context.Context, ch *channel.Channel) (err error) {
	ctx = tcontext.WithOperation(tcontext.Enrich(ctx), "unbind_channel")
	m := g.mgr
	log := logger.WithContext(ctx, m.log)
	ops := m.deps.Channels
	chid := ch.ID()

	defer func() {
		m.metrics.Unbind(err)
		if err != nil {
			log.Warn("Unbind failed",
				logger.WithField("tsgid", g.id),
				logger.WithField("chid", chid),
				logger.WithError(err))
		}
	}()

	g.chMu.Lock()
	defer g.chMu.Unlock()
	ch.Lock()
	defer ch.Unlock()

	if g.dead.Load() {
		return g.errReleased()
	}
	if ch.GroupIDLocked() != g.id {
		return fmt.Errorf("%w: channel %d is not bound to tsg %d", ErrInvalidState, chid, g.id)
	}
	if ch.UnserviceableLocked() {
		return fmt.Errorf("%w: channel %d is unserviceable", ErrInvalidState, chid)
	}

	wasEnabled := g.disableLocked()
	defer func() {
		g.reenableLocked(wasEnabled, log)
	}()

	if err := g.preempt(ctx); err != nil {
		return err
	}

	hw, err := ops.ReadState(chid)
	if err != nil {
		return fmt.Errorf("%w: read channel %d state: %v", ErrHardware, chid, err)
	}
	if hw.Next {
		return fmt.Errorf("%w: channel %d still has a pending runlist entry", ErrInvalidState, chid)
	}
	if hw.CtxReload {
		for _, other := range g.channels {
			if other != ch {
				ops.ForceCtxReload(other.ID())
			}
		}
	}
	if hw.EngFaulted {
		g.clearFaultedMethodBuffer(chid)
	}

	hook := m.deps.BindHook
	req := g.bindRequestLocked(ch)
	if hook != nil {
		if err := hook.UnbindChannel(ctx, req); err != nil {
			return fmt.Errorf("unbind channel %d from tsg %d: %w", chid, g.id, err)
		}
	}

	if err := m.runlists[g.runlistID].remove(m.deps.Scheduler, chid); err != nil {
		if hook != nil {
			if berr := hook.BindChannel(ctx, req); berr != nil {
				log.Error("Remote rebind after failed unbind did not complete",
					logger.WithField("tsgid", g.id),
					logger.WithField("chid", chid),
					logger.WithError(berr))
			}
		}
		return fmt.Errorf("%w: runlist %d update: %v", ErrHardware, g.runlistID, err)
	}

	g.removeLocked(ch)
	ch.SetGroupIDLocked(types.InvalidGroupID)
	ch.SetPowerGatingLocked(false)
	delete(wasEnabled, chid)
	ops.Disable(chid)

	log.Info("Channel unbound",
		logger.WithField("tsgid", g.id),
		logger.WithField("chid", chid),
		logger.WithField("remaining", len(g.channels)))
	return nil
}

// preempt asks the scheduler to preempt the group within the manager's
// timeout.
func (g *Group) preempt(ctx context.Context) error {
	m := g.mgr

	pctx, cancel := context.WithTimeout(ctx, m.PreemptTimeout())
	defer cancel()

	if err := m.deps.Scheduler.PreemptTSG(pctx, g.id); err != nil {
		m.metrics.PreemptFailed()
		return fmt.Errorf("%w: tsg %d: %v", ErrPreemptTimeout, g.id, err)
	}
	return nil
}
