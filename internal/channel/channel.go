// Package channel tracks open work-submission channels
package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

var (
	// ErrNoFreeChannel indicates every channel slot is in use
	ErrNoFreeChannel = errors.New("no free channel")

	// ErrChannelNotFound indicates the id or handle names no open channel
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelBound indicates the channel still belongs to a group
	ErrChannelBound = errors.New("channel is bound to a group")

	// ErrInvalidRunlist indicates the runlist id is out of range
	ErrInvalidRunlist = errors.New("invalid runlist")
)

// Channel is a single stream of work submissions. Binding fields are
// guarded by the channel lock, which is always taken after the owning
// group's membership lock.
type Channel struct {
	id        uint32
	gen       uint32
	runlistID uint32

	mu            sync.Mutex
	groupID       uint32
	subctxID      uint32
	runqueue      types.RunqueueSelector
	powerGating   bool
	unserviceable bool
	closed        bool
}

// ID returns the hardware channel id
func (c *Channel) ID() uint32 { return c.id }

// RunlistID returns the runlist the channel was opened against
func (c *Channel) RunlistID() uint32 { return c.runlistID }

// Handle is the opaque value remote peers use to name the channel
func (c *Channel) Handle() uint64 {
	return uint64(c.gen)<<32 | uint64(c.id)
}

// Lock acquires the channel binding lock
func (c *Channel) Lock() { c.mu.Lock() }

// Unlock releases the channel binding lock
func (c *Channel) Unlock() { c.mu.Unlock() }

// GroupIDLocked returns the owning group id. Caller holds the lock.
func (c *Channel) GroupIDLocked() uint32 { return c.groupID }

// SetGroupIDLocked records the owning group. Caller holds the lock.
func (c *Channel) SetGroupIDLocked(id uint32) { c.groupID = id }

// SubcontextLocked returns the subcontext id and runqueue selector
func (c *Channel) SubcontextLocked() (uint32, types.RunqueueSelector) {
	return c.subctxID, c.runqueue
}

// SetSubcontextLocked assigns the subcontext and its runqueue selector
func (c *Channel) SetSubcontextLocked(subctxID uint32, sel types.RunqueueSelector) {
	c.subctxID = subctxID
	c.runqueue = sel
}

// PowerGatingLocked reports whether dynamic power gating applies
func (c *Channel) PowerGatingLocked() bool { return c.powerGating }

// SetPowerGatingLocked sets the per-channel power gating flag
func (c *Channel) SetPowerGatingLocked(enabled bool) { c.powerGating = enabled }

// UnserviceableLocked reports the unserviceable flag. Caller holds the lock.
func (c *Channel) UnserviceableLocked() bool { return c.unserviceable }

// SetUnserviceableLocked sets the unserviceable flag. Caller holds the lock.
func (c *Channel) SetUnserviceableLocked(v bool) { c.unserviceable = v }

// ClosedLocked reports whether the channel was returned to the registry.
// Caller holds the lock.
func (c *Channel) ClosedLocked() bool { return c.closed }

// Closed reports whether the channel was returned to the registry
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// GroupID returns the owning group id, or types.InvalidGroupID
func (c *Channel) GroupID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupID
}

// Bound reports whether the channel belongs to a group
func (c *Channel) Bound() bool {
	return c.GroupID() != types.InvalidGroupID
}

// Subcontext returns the subcontext id and runqueue selector
func (c *Channel) Subcontext() (uint32, types.RunqueueSelector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subctxID, c.runqueue
}

// Unserviceable reports whether the channel can no longer be evicted cleanly
func (c *Channel) Unserviceable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unserviceable
}

// SetUnserviceable marks the channel as wedged
func (c *Channel) SetUnserviceable(v bool) {
	c.mu.Lock()
	c.unserviceable = v
	c.mu.Unlock()
}

// Registry owns the fixed pool of channel slots
type Registry struct {
	mu       sync.Mutex
	slots    []*Channel
	gens     []uint32
	runlists uint32
	log      logger.Logger
}

// NewRegistry creates a registry with numChannels slots
func NewRegistry(numChannels, numRunlists uint32, log logger.Logger) *Registry {
	return &Registry{
		slots:    make([]*Channel, numChannels),
		gens:     make([]uint32, numChannels),
		runlists: numRunlists,
		log:      log.WithComponent("channel"),
	}
}

// Open allocates the lowest free channel id targeting runlistID
func (r *Registry) Open(runlistID uint32) (*Channel, error) {
	if runlistID >= r.runlists {
		return nil, fmt.Errorf("%w: %d out of range (%d runlists)", ErrInvalidRunlist, runlistID, r.runlists)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, slot := range r.slots {
		if slot != nil {
			continue
		}
		r.gens[i]++
		ch := &Channel{
			id:        uint32(i),
			gen:       r.gens[i],
			runlistID: runlistID,
			groupID:   types.InvalidGroupID,
			subctxID:  types.SubcontextVEID0,
			runqueue:  types.RunqueuePrimary,
		}
		r.slots[i] = ch
		r.log.Debug("Channel opened",
			logger.WithField("chid", ch.id),
			logger.WithField("runlist", runlistID))
		return ch, nil
	}
	return nil, ErrNoFreeChannel
}

// Get returns the open channel with the given id
func (r *Registry) Get(chid uint32) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(chid) >= len(r.slots) || r.slots[chid] == nil {
		return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, chid)
	}
	return r.slots[chid], nil
}

// FromHandle resolves a remote handle, rejecting handles from a previous
// occupant of the slot.
func (r *Registry) FromHandle(handle uint64) (*Channel, error) {
	chid := uint32(handle)
	ch, err := r.Get(chid)
	if err != nil {
		return nil, err
	}
	if ch.Handle() != handle {
		return nil, fmt.Errorf("%w: stale handle %#x", ErrChannelNotFound, handle)
	}
	return ch, nil
}

// Close returns the slot to the pool. Bound channels must be unbound first;
// a closed channel can never be bound again.
func (r *Registry) Close(chid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(chid) >= len(r.slots) || r.slots[chid] == nil {
		return fmt.Errorf("%w: %d", ErrChannelNotFound, chid)
	}

	ch := r.slots[chid]
	ch.mu.Lock()
	if ch.groupID != types.InvalidGroupID {
		ch.mu.Unlock()
		return ErrChannelBound
	}
	ch.closed = true
	ch.mu.Unlock()

	r.slots[chid] = nil
	r.log.Debug("Channel closed", logger.WithField("chid", chid))
	return nil
}

// List returns the open channels ordered by id
func (r *Registry) List() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Channel, 0, len(r.slots))
	for _, ch := range r.slots {
		if ch != nil {
			out = append(out, ch)
		}
	}
	return out
}
