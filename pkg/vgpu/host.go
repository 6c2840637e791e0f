package vgpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/tsgd/tsgd/internal/channel"
	"github.com/tsgd/tsgd/internal/tsg"
	tcontext "github.com/tsgd/tsgd/pkg/context"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

// guestGroup names a group slot in one guest's own id space
type guestGroup struct {
	guest string
	id    uint32
}

// shadow is the host group standing in for one lifetime of a guest group.
// Host channels exist only while the guest channel they mirror is bound.
type shadow struct {
	gen      uint32
	group    *tsg.Group
	channels map[uint64]*channel.Channel
}

// Host applies binds received from guests on the local manager. Guests
// allocate group and channel ids from their own pools, so the host never
// resolves them directly: each guest group lifetime gets a host group and
// each bound guest channel a host channel.
type Host struct {
	manager  *tsg.Manager
	channels *channel.Registry
	logger   logger.Logger

	mu      sync.Mutex
	shadows map[guestGroup]*shadow
}

// NewHost creates a host executor
func NewHost(manager *tsg.Manager, channels *channel.Registry, log logger.Logger) *Host {
	return &Host{
		manager:  manager,
		channels: channels,
		logger:   log.WithComponent("vgpu"),
		shadows:  make(map[guestGroup]*shadow),
	}
}

// BindChannelEx executes one remote bind and returns its status code
func (h *Host) BindChannelEx(ctx context.Context, req types.BindChannelRequest) Status {
	return h.exec(ctx, "bind", req, h.bind)
}

// UnbindChannel executes one remote unbind and returns its status code
func (h *Host) UnbindChannel(ctx context.Context, req types.BindChannelRequest) Status {
	return h.exec(ctx, "unbind", req, h.unbind)
}

// Shadow returns the host group currently mirroring the guest group, if any
func (h *Host) Shadow(guest string, id uint32) *tsg.Group {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sh, ok := h.shadows[guestGroup{guest, id}]; ok {
		return sh.group
	}
	return nil
}

// ShadowChannel returns the host channel mirroring a bound guest channel
func (h *Host) ShadowChannel(guest string, id uint32, handle uint64) *channel.Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sh, ok := h.shadows[guestGroup{guest, id}]; ok {
		return sh.channels[handle]
	}
	return nil
}

func (h *Host) exec(ctx context.Context, op string, req types.BindChannelRequest,
	fn func(context.Context, types.BindChannelRequest) error) Status {
	ctx = tcontext.WithOperation(tcontext.WithGroupID(ctx, req.GroupID), "remote_"+op)
	err := fn(ctx, req)

	status := StatusFromError(err)
	if err != nil {
		logger.WithContext(ctx, h.logger).Warn("Remote request rejected",
			logger.WithField("op", op),
			logger.WithField("guest", req.Guest),
			logger.WithField("tsgid", req.GroupID),
			logger.WithField("ch_handle", req.ChannelHandle),
			logger.WithField("ret", int32(status)),
			logger.WithError(err))
	}
	return status
}

func (h *Host) bind(ctx context.Context, req types.BindChannelRequest) error {
	if want := types.SelectorForSubcontext(req.SubcontextID); req.RunqueueSel != want {
		return fmt.Errorf("%w: subcontext %d requires runqueue %s, got %s",
			tsg.ErrInvalidArgument, req.SubcontextID, want, req.RunqueueSel)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sh, err := h.shadowFor(ctx, req)
	if err != nil {
		return err
	}
	if _, ok := sh.channels[req.ChannelHandle]; ok {
		return fmt.Errorf("%w: guest channel %#x already bound", tsg.ErrInvalidState, req.ChannelHandle)
	}

	ch, err := h.channels.Open(req.RunlistID)
	if err != nil {
		return err
	}
	opts := types.BindOptions{SubcontextID: req.SubcontextID}
	if err := h.manager.BindChannelEx(ctx, sh.group, ch, opts); err != nil {
		h.closeChannel(ch)
		return err
	}
	sh.channels[req.ChannelHandle] = ch
	return nil
}

func (h *Host) unbind(ctx context.Context, req types.BindChannelRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sh, ok := h.shadows[guestGroup{req.Guest, req.GroupID}]
	if !ok || sh.gen != req.GroupGen {
		return fmt.Errorf("%w: guest tsg %d.%d", tsg.ErrNotFound, req.GroupID, req.GroupGen)
	}
	ch, ok := sh.channels[req.ChannelHandle]
	if !ok {
		return fmt.Errorf("%w: guest channel %#x", tsg.ErrNotFound, req.ChannelHandle)
	}

	if err := sh.group.UnbindChannel(ctx, ch); err != nil {
		return err
	}
	delete(sh.channels, req.ChannelHandle)
	h.closeChannel(ch)
	return nil
}

// shadowFor returns the host group for the guest group lifetime named by
// req, retiring the one kept for an earlier lifetime. Caller holds h.mu.
func (h *Host) shadowFor(ctx context.Context, req types.BindChannelRequest) (*shadow, error) {
	key := guestGroup{req.Guest, req.GroupID}

	if sh, ok := h.shadows[key]; ok {
		switch {
		case sh.gen == req.GroupGen:
			if rl := sh.group.RunlistID(); rl != req.RunlistID {
				return nil, fmt.Errorf("%w: guest tsg %d uses runlist %d, request names %d",
					tsg.ErrMismatch, req.GroupID, rl, req.RunlistID)
			}
			return sh, nil
		case req.GroupGen < sh.gen:
			return nil, fmt.Errorf("%w: stale guest tsg %d.%d", tsg.ErrNotFound, req.GroupID, req.GroupGen)
		}
		h.retire(key, sh)
	}

	g, err := h.manager.Open(ctx, req.RunlistID)
	if err != nil {
		return nil, err
	}
	sh := &shadow{gen: req.GroupGen, group: g, channels: make(map[uint64]*channel.Channel)}
	h.shadows[key] = sh

	h.logger.Debug("Shadow group opened",
		logger.WithField("guest", req.Guest),
		logger.WithField("guest_tsg", fmt.Sprintf("%d.%d", req.GroupID, req.GroupGen)),
		logger.WithField("tsgid", g.ID()))
	return sh, nil
}

// retire drops the host's reference on a shadow group and closes its
// channels. Caller holds h.mu.
func (h *Host) retire(key guestGroup, sh *shadow) {
	delete(h.shadows, key)
	sh.group.Release()
	for _, ch := range sh.channels {
		h.closeChannel(ch)
	}
	h.logger.Debug("Shadow group retired",
		logger.WithField("guest", key.guest),
		logger.WithField("guest_tsg", fmt.Sprintf("%d.%d", key.id, sh.gen)),
		logger.WithField("tsgid", sh.group.ID()))
}

func (h *Host) closeChannel(ch *channel.Channel) {
	if err := h.channels.Close(ch.ID()); err != nil {
		h.logger.Warn("Failed to close shadow channel",
			logger.WithField("chid", ch.ID()),
			logger.WithError(err))
	}
}
