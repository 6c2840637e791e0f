package tsg

import (
	"context"
	"fmt"

	"github.com/tsgd/tsgd/internal/channel"
	tcontext "github.com/tsgd/tsgd/pkg/context"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

// BindChannel binds ch to the group keeping the channel's current
// subcontext.
func (g *Group) BindChannel(ctx context.Context, ch *channel.Channel) error {
	ctx = tcontext.WithOperation(tcontext.Enrich(ctx), "bind_channel")
	return g.bind(ctx, ch, nil)
}

func (g *Group) bind(ctx context.Context, ch *channel.Channel, opts *types.BindOptions) (err error) {
	m := g.mgr
	log := logger.WithContext(ctx, m.log)
	chid := ch.ID()

	defer func() {
		m.metrics.Bind(err)
		if err != nil {
			log.Warn("Bind failed",
				logger.WithField("tsgid", g.id),
				logger.WithField("chid", chid),
				logger.WithError(err))
		}
	}()

	g.chMu.Lock()
	defer g.chMu.Unlock()
	ch.Lock()
	defer ch.Unlock()

	// Validate everything before touching any state.
	if g.dead.Load() {
		return g.errReleased()
	}
	if ch.ClosedLocked() {
		return fmt.Errorf("%w: channel %d is closed", ErrInvalidState, chid)
	}
	if owner := ch.GroupIDLocked(); owner != types.InvalidGroupID {
		return fmt.Errorf("%w: channel %d already bound to tsg %d", ErrInvalidState, chid, owner)
	}
	if ch.RunlistID() != g.runlistID {
		return fmt.Errorf("%w: channel %d targets runlist %d, tsg %d uses %d",
			ErrMismatch, chid, ch.RunlistID(), g.id, g.runlistID)
	}
	rl := m.runlists[g.runlistID]
	if rl.isActive(chid) {
		return fmt.Errorf("%w: channel %d already active in runlist %d", ErrInvalidState, chid, rl.id)
	}

	prevSubctx, prevSel := ch.SubcontextLocked()
	subctx := prevSubctx
	wantPG := false
	if opts != nil {
		if opts.SubcontextID >= m.platform.MaxSubctxCount {
			return fmt.Errorf("%w: subcontext %d >= max %d",
				ErrInvalidArgument, opts.SubcontextID, m.platform.MaxSubctxCount)
		}
		subctx = opts.SubcontextID
		wantPG = opts.PowerGating.Enabled
	}

	initPG := wantPG && !g.pg.initialized
	if initPG {
		n := opts.PowerGating.NumActiveUnits
		if n == 0 || n > m.platform.MaxTPCCount {
			return fmt.Errorf("%w: %d active TPCs, platform has %d",
				ErrInvalidArgument, n, m.platform.MaxTPCCount)
		}
	}

	prevGroupPG := g.pg
	prevChannelPG := ch.PowerGatingLocked()
	sel := types.SelectorForSubcontext(subctx)

	ch.SetSubcontextLocked(subctx, sel)
	if initPG {
		g.pg = powerGating{initialized: true, numActive: opts.PowerGating.NumActiveUnits}
	} else if wantPG {
		log.Debug("Power gating already configured for group, ignoring request",
			logger.WithField("tsgid", g.id),
			logger.WithField("chid", chid))
	}
	ch.SetPowerGatingLocked(initPG)
	g.channels = append(g.channels, ch)
	ch.SetGroupIDLocked(g.id)

	rollback := func() {
		g.removeLocked(ch)
		ch.SetGroupIDLocked(types.InvalidGroupID)
		ch.SetSubcontextLocked(prevSubctx, prevSel)
		ch.SetPowerGatingLocked(prevChannelPG)
		g.pg = prevGroupPG
	}

	hook := m.deps.BindHook
	req := g.bindRequestLocked(ch)
	if hook != nil {
		if err := hook.BindChannel(ctx, req); err != nil {
			rollback()
			return fmt.Errorf("bind channel %d to tsg %d: %w", chid, g.id, err)
		}
	}

	g.initMethodBuffers(log)
	g.bindMethodBuffer(chid, log)

	if err := rl.add(m.deps.Scheduler, chid); err != nil {
		rollback()
		if hook != nil {
			if uerr := hook.UnbindChannel(ctx, req); uerr != nil {
				log.Error("Remote unbind after failed bind did not complete",
					logger.WithField("tsgid", g.id),
					logger.WithField("chid", chid),
					logger.WithError(uerr))
			}
		}
		return fmt.Errorf("%w: runlist %d update: %v", ErrHardware, rl.id, err)
	}

	log.Info("Channel bound",
		logger.WithField("tsgid", g.id),
		logger.WithField("chid", chid),
		logger.WithField("subctx", subctx),
		logger.WithField("runqueue", sel.String()))
	return nil
}

// bindRequestLocked describes ch's membership in g for the bind hook.
// Caller holds the channel lock.
func (g *Group) bindRequestLocked(ch *channel.Channel) types.BindChannelRequest {
	subctx, sel := ch.SubcontextLocked()
	return types.BindChannelRequest{
		GroupID:       g.id,
		GroupGen:      g.gen,
		RunlistID:     g.runlistID,
		ChannelHandle: ch.Handle(),
		SubcontextID:  subctx,
		RunqueueSel:   sel,
	}
}

// removeLocked drops ch from the member list. Caller holds chMu.
func (g *Group) removeLocked(ch *channel.Channel) {
	for i, c := range g.channels {
		if c == ch {
			g.channels = append(g.channels[:i], g.channels[i+1:]...)
			return
		}
	}
}
