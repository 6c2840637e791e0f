// Package tsg manages time-slice groups: schedulable containers that bind
// work-submission channels to one hardware runlist.
package tsg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsgd/tsgd/internal/channel"
	tcontext "github.com/tsgd/tsgd/pkg/context"
	"github.com/tsgd/tsgd/pkg/interfaces"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/metrics"
	"github.com/tsgd/tsgd/pkg/types"
)

// DefaultPreemptTimeout bounds how long unbind and abort wait for the
// scheduler to acknowledge preemption.
const DefaultPreemptTimeout = 3 * time.Second

// Options configures a Manager
type Options struct {
	Platform       types.Platform
	PreemptTimeout time.Duration
	Logger         logger.Logger
	Metrics        *metrics.Metrics
}

// Manager owns the fixed pool of group slots and the per-runlist state
type Manager struct {
	platform types.Platform
	deps     interfaces.Dependencies
	log      logger.Logger
	metrics  *metrics.Metrics

	slotMu sync.Mutex
	slots  []*slot

	runlists []*runlist

	controlMu     sync.Mutex
	controlLocked atomic.Bool

	preemptTimeout atomic.Int64
}

// Handle names one lifetime of a group slot
type Handle struct {
	ID  uint32 `json:"id"`
	Gen uint32 `json:"gen"`
}

// String formats the handle as "id.gen"
func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.ID, h.Gen)
}

// ParseHandle parses the "id.gen" form produced by Handle.String
func ParseHandle(s string) (Handle, error) {
	idStr, genStr, ok := strings.Cut(s, ".")
	if !ok {
		return Handle{}, fmt.Errorf("%w: handle %q is not id.gen", ErrInvalidArgument, s)
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: handle %q: bad id", ErrInvalidArgument, s)
	}
	gen, err := strconv.ParseUint(genStr, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: handle %q: bad generation", ErrInvalidArgument, s)
	}
	return Handle{ID: uint32(id), Gen: uint32(gen)}, nil
}

type noopPower struct{}

func (noopPower) Busy() error { return nil }
func (noopPower) Idle()       {}

// NewManager creates a manager with one slot per group the platform supports
func NewManager(deps interfaces.Dependencies, opts Options) (*Manager, error) {
	p := opts.Platform
	switch {
	case deps.Channels == nil, deps.Scheduler == nil, deps.Memory == nil:
		return nil, fmt.Errorf("%w: channel, scheduler and memory capabilities are required", ErrInvalidArgument)
	case p.NumTSGs == 0:
		return nil, fmt.Errorf("%w: platform has no group slots", ErrInvalidArgument)
	case p.NumRunlists == 0:
		return nil, fmt.Errorf("%w: platform has no runlists", ErrInvalidArgument)
	}
	if deps.Power == nil {
		deps.Power = noopPower{}
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	m := &Manager{
		platform: p,
		deps:     deps,
		log:      log.WithComponent("tsg"),
		metrics:  opts.Metrics,
		slots:    make([]*slot, p.NumTSGs),
		runlists: make([]*runlist, p.NumRunlists),
	}
	for i := range m.slots {
		m.slots[i] = &slot{id: uint32(i)}
	}
	for i := range m.runlists {
		m.runlists[i] = newRunlist(uint32(i), p.NumChannels)
	}

	timeout := opts.PreemptTimeout
	if timeout <= 0 {
		timeout = DefaultPreemptTimeout
	}
	m.preemptTimeout.Store(int64(timeout))

	return m, nil
}

// Platform returns the platform description
func (m *Manager) Platform() types.Platform {
	return m.platform
}

// PreemptTimeout returns the current preemption timeout
func (m *Manager) PreemptTimeout() time.Duration {
	return time.Duration(m.preemptTimeout.Load())
}

// SetPreemptTimeout changes the preemption timeout for later operations
func (m *Manager) SetPreemptTimeout(d time.Duration) {
	if d > 0 {
		m.preemptTimeout.Store(int64(d))
	}
}

// Open acquires the lowest unused group slot on the given runlist. The
// returned group holds one reference owned by the caller.
func (m *Manager) Open(ctx context.Context, runlistID uint32) (*Group, error) {
	log := logger.WithContext(ctx, m.log)

	if runlistID >= uint32(len(m.runlists)) {
		return nil, fmt.Errorf("%w: runlist %d out of range", ErrInvalidArgument, runlistID)
	}

	g := m.acquireSlot()
	if g == nil {
		log.Warn("No free group slot", logger.WithField("slots", len(m.slots)))
		return nil, fmt.Errorf("%w: all %d group slots in use", ErrResourceExhausted, len(m.slots))
	}

	if err := g.init(runlistID); err != nil {
		m.releaseSlot(g)
		log.Error("Group init failed", logger.WithField("tsgid", g.id), logger.WithError(err))
		return nil, err
	}

	m.metrics.GroupOpened()
	log.Info("Group opened",
		logger.WithField("tsgid", g.id),
		logger.WithField("gen", g.gen),
		logger.WithField("runlist", runlistID))
	return g, nil
}

// acquireSlot claims the lowest free slot and starts a new lifetime on it
func (m *Manager) acquireSlot() *Group {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()

	for _, s := range m.slots {
		if s.cur == nil {
			g := &Group{mgr: m, slot: s, id: s.id, gen: s.gen, runlistID: types.InvalidRunlistID}
			s.cur = g
			return g
		}
	}
	return nil
}

// releaseSlot frees a slot whose group never became visible
func (m *Manager) releaseSlot(g *Group) {
	m.slotMu.Lock()
	if g.slot.cur == g {
		g.slot.cur = nil
	}
	m.slotMu.Unlock()
}

// retireSlot ends g's lifetime; handles naming it no longer resolve
func (m *Manager) retireSlot(g *Group) {
	m.slotMu.Lock()
	if g.slot.cur == g {
		g.slot.cur = nil
		g.slot.gen++
	}
	m.slotMu.Unlock()
}

// CheckAndGet returns the group in slot id, or nil when the id is out of
// range or the slot is unused. No reference is taken.
func (m *Manager) CheckAndGet(id uint32) *Group {
	if id >= uint32(len(m.slots)) {
		return nil
	}

	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.slots[id].cur
}

// Get looks up the current group in slot id and takes a reference on it.
// Callers holding a Handle should use Acquire.
func (m *Manager) Get(id uint32) (*Group, error) {
	g := m.CheckAndGet(id)
	if g == nil || !g.Retain() {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return g, nil
}

// Acquire takes a reference on the group named by h if that lifetime of the
// slot is still live.
func (m *Manager) Acquire(h Handle) (*Group, error) {
	g := m.CheckAndGet(h.ID)
	if g == nil || g.gen != h.Gen || !g.Retain() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	return g, nil
}

// live retains and returns every live group in slot order
func (m *Manager) live() []*Group {
	m.slotMu.Lock()
	current := make([]*Group, 0, len(m.slots))
	for _, s := range m.slots {
		if s.cur != nil {
			current = append(current, s.cur)
		}
	}
	m.slotMu.Unlock()

	out := current[:0]
	for _, g := range current {
		if g.Retain() {
			out = append(out, g)
		}
	}
	return out
}

// LockControl marks scheduler control as held by a control client
func (m *Manager) LockControl() {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	m.controlLocked.Store(true)
}

// UnlockControl releases scheduler control
func (m *Manager) UnlockControl() {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	m.controlLocked.Store(false)
}

// ControlLocked reports whether a control client holds the scheduler
func (m *Manager) ControlLocked() bool {
	return m.controlLocked.Load()
}

// BindChannelEx binds ch to g with an explicit subcontext and optional power
// gating. The whole sequence, power acquisition included, is exclusive
// across the manager.
func (m *Manager) BindChannelEx(ctx context.Context, g *Group, ch *channel.Channel, opts types.BindOptions) error {
	ctx = tcontext.WithOperation(tcontext.Enrich(ctx), "bind_channel_ex")
	log := logger.WithContext(ctx, m.log)

	m.controlMu.Lock()
	defer m.controlMu.Unlock()

	if m.controlLocked.Load() {
		log.Debug("Bind refused while control is locked", logger.WithField("tsgid", g.id))
		return ErrControlLocked
	}

	if err := m.deps.Power.Busy(); err != nil {
		return fmt.Errorf("%w: power on: %v", ErrHardware, err)
	}
	defer m.deps.Power.Idle()

	return g.bind(ctx, ch, &opts)
}

// Snapshot captures every live group in id order
func (m *Manager) Snapshot() []types.GroupSnapshot {
	groups := m.live()
	out := make([]types.GroupSnapshot, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Snapshot())
		g.Release()
	}
	return out
}
