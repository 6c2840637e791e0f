package tsg

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsgd/tsgd/internal/channel"
	"github.com/tsgd/tsgd/pkg/interfaces"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

type powerGating struct {
	initialized bool
	numActive   uint32
}

// slot is one entry of the fixed group pool. It outlives the groups opened
// on it; gen counts their lifetimes.
type slot struct {
	id uint32

	// guarded by mgr.slotMu
	cur      *Group
	gen      uint32
	smErrors []types.SMErrorState
}

// Group is one lifetime of a slot. A released Group stays dead even after
// its slot is reopened. Lock order is chMu, then channel locks, then bufMu
// or the runlist lock. smMu and vmMu are leaves.
type Group struct {
	mgr  *Manager
	slot *slot
	id   uint32
	gen  uint32

	refs atomic.Int32
	dead atomic.Bool

	runlistID uint32
	abortable atomic.Bool
	aborting  atomic.Bool

	chMu     sync.RWMutex
	channels []*channel.Channel
	pg       powerGating

	bufMu      sync.Mutex
	methodBufs []types.Mem

	smMu     sync.Mutex
	smErrors []types.SMErrorState

	vmMu sync.Mutex
	vm   interfaces.VM
}

func (g *Group) init(runlistID uint32) error {
	p := g.mgr.platform

	if p.NumSM == 0 {
		return fmt.Errorf("%w: platform reports no SMs", ErrInvalidArgument)
	}

	g.mgr.slotMu.Lock()
	if g.slot.smErrors != nil {
		g.mgr.slotMu.Unlock()
		return fmt.Errorf("%w: stale SM error state in slot %d", ErrInvalidState, g.id)
	}
	g.slot.smErrors = make([]types.SMErrorState, p.NumSM)
	g.smErrors = g.slot.smErrors
	g.mgr.slotMu.Unlock()

	g.runlistID = runlistID
	g.abortable.Store(true)
	g.refs.Store(1)
	return nil
}

// ID returns the slot index
func (g *Group) ID() uint32 { return g.id }

// Handle returns the id and generation of this lifetime of the slot
func (g *Group) Handle() Handle {
	return Handle{ID: g.id, Gen: g.gen}
}

// RunlistID returns the runlist the group schedules on
func (g *Group) RunlistID() uint32 { return g.runlistID }

// RefCount returns the current reference count
func (g *Group) RefCount() int32 { return g.refs.Load() }

// Released reports whether this lifetime of the group has been torn down
func (g *Group) Released() bool { return g.dead.Load() }

func (g *Group) errReleased() error {
	return fmt.Errorf("%w: tsg %s was released", ErrNotFound, g.Handle())
}

// Retain takes a reference if the group is still live. It never revives a
// group whose count already reached zero.
func (g *Group) Retain() bool {
	for {
		n := g.refs.Load()
		if n <= 0 {
			return false
		}
		if g.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The caller dropping the last one tears the
// group down and returns the slot to the pool.
func (g *Group) Release() {
	for {
		n := g.refs.Load()
		if n <= 0 {
			g.mgr.log.Error("Release of a group with no references",
				logger.WithField("tsgid", g.id))
			return
		}
		if g.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				g.teardown()
			}
			return
		}
	}
}

func (g *Group) teardown() {
	m := g.mgr
	log := m.log

	// Binds that take chMu after this see the group as dead.
	g.dead.Store(true)
	g.detachRemaining(log)
	g.freeMethodBuffers()
	g.freeSMErrorStates()

	g.vmMu.Lock()
	if g.vm != nil {
		g.vm.Put()
		g.vm = nil
	}
	g.vmMu.Unlock()

	m.retireSlot(g)
	m.metrics.GroupReleased()

	log.Info("Group released", logger.WithField("tsgid", g.id))
}

// detachRemaining unbinds every channel still in the group without
// preempting; only the final owner can reach it.
func (g *Group) detachRemaining(log logger.Logger) {
	g.chMu.Lock()
	defer g.chMu.Unlock()

	if len(g.channels) == 0 {
		return
	}

	m := g.mgr
	chids := make([]uint32, 0, len(g.channels))
	for _, ch := range g.channels {
		ch.Lock()
		req := g.bindRequestLocked(ch)
		ch.SetGroupIDLocked(types.InvalidGroupID)
		ch.SetPowerGatingLocked(false)
		ch.Unlock()
		m.deps.Channels.Disable(ch.ID())
		chids = append(chids, ch.ID())

		if hook := m.deps.BindHook; hook != nil {
			if err := hook.UnbindChannel(context.Background(), req); err != nil {
				log.Warn("Remote unbind failed while releasing group",
					logger.WithField("tsgid", g.id),
					logger.WithField("chid", ch.ID()),
					logger.WithError(err))
			}
		}
	}
	g.channels = nil

	if err := m.runlists[g.runlistID].remove(m.deps.Scheduler, chids...); err != nil {
		log.Error("Runlist update failed while releasing group",
			logger.WithField("tsgid", g.id),
			logger.WithError(err))
	}
	log.Warn("Released group still had channels bound",
		logger.WithField("tsgid", g.id),
		logger.WithField("channels", chids))
}

// Abortable reports whether Abort is permitted
func (g *Group) Abortable() bool { return g.abortable.Load() }

// SetAbortable enables or disables Abort on the group
func (g *Group) SetAbortable(v bool) { g.abortable.Store(v) }

// BindVM attaches an address space to the group. The group holds a
// reference until it is released.
func (g *Group) BindVM(vm interfaces.VM) error {
	if vm == nil {
		return fmt.Errorf("%w: nil vm", ErrInvalidArgument)
	}

	g.vmMu.Lock()
	defer g.vmMu.Unlock()

	if g.dead.Load() {
		return g.errReleased()
	}
	if g.vm != nil {
		return fmt.Errorf("%w: tsg %d already has a vm", ErrInvalidState, g.id)
	}
	vm.Get()
	g.vm = vm
	return nil
}

// Channels returns the ids of bound channels in bind order
func (g *Group) Channels() []uint32 {
	g.chMu.RLock()
	defer g.chMu.RUnlock()

	out := make([]uint32, len(g.channels))
	for i, ch := range g.channels {
		out[i] = ch.ID()
	}
	return out
}

// HasMethodBuffers reports whether engine method buffers are allocated
func (g *Group) HasMethodBuffers() bool {
	g.bufMu.Lock()
	defer g.bufMu.Unlock()
	return g.methodBufs != nil
}

// Snapshot captures the group's state
func (g *Group) Snapshot() types.GroupSnapshot {
	snap := types.GroupSnapshot{
		ID:         g.id,
		Generation: g.gen,
		RunlistID:  g.runlistID,
		RefCount:   g.refs.Load(),
		Abortable:  g.abortable.Load(),
		TakenAt:    time.Now(),
	}

	g.chMu.RLock()
	snap.PowerGatingActive = g.pg.initialized
	snap.NumActiveTPCs = g.pg.numActive
	snap.Channels = make([]types.ChannelSnapshot, 0, len(g.channels))
	for _, ch := range g.channels {
		subctx, sel := ch.Subcontext()
		cs := types.ChannelSnapshot{ID: ch.ID(), SubcontextID: subctx, Runqueue: sel}
		if hw, err := g.mgr.deps.Channels.ReadState(ch.ID()); err == nil {
			cs.Enabled = hw.Enabled
			cs.Faulted = hw.EngFaulted || ch.Unserviceable()
		}
		snap.Channels = append(snap.Channels, cs)
	}
	g.chMu.RUnlock()

	g.bufMu.Lock()
	snap.MethodBuffers = len(g.methodBufs)
	g.bufMu.Unlock()

	switch {
	case snap.RefCount <= 0, g.dead.Load():
		snap.State = types.GroupStateDestroyed
	case g.aborting.Load():
		snap.State = types.GroupStateAborting
	case len(snap.Channels) > 0:
		snap.State = types.GroupStateBound
	default:
		snap.State = types.GroupStateIdle
	}
	return snap
}
