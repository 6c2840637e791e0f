// Package sim implements the hardware capabilities against an in-memory GPU
// model with fault injection.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tsgd/tsgd/pkg/interfaces"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

// ErrInjected is returned by injected faults without a custom error
var ErrInjected = errors.New("injected fault")

// BaseVA is the address of the first region the simulator allocates
const BaseVA uint64 = 0x1_0000_0000

type channelState struct {
	hw          types.ChannelHWState
	ctxReloads  int
	aborted     bool
	methodBufVA uint64
}

// Stats counts calls made against the GPU
type Stats struct {
	Allocs      int
	Frees       int
	Preempts    int
	Submits     int
	Doorbells   int
	BusyCalls   int
	IdleCalls   int
	AbortClears int
}

// GPU is a simulated device. The zero value is not usable; use New.
type GPU struct {
	mu       sync.Mutex
	log      logger.Logger
	channels map[uint32]*channelState
	runlists map[uint32][]uint32
	regions  map[uint64]types.Mem
	nextVA   uint64
	doorbell []uint32
	stats    Stats

	allocsUntilFail int
	preemptErr      error
	preemptHang     bool
	runlistErr      error
	busyErr         error
}

var (
	_ interfaces.ChannelOps    = (*GPU)(nil)
	_ interfaces.Scheduler     = (*GPU)(nil)
	_ interfaces.MemoryManager = (*GPU)(nil)
	_ interfaces.PowerManager  = (*GPU)(nil)
)

// New creates a simulated GPU
func New(log logger.Logger) *GPU {
	return &GPU{
		log:             log.WithComponent("sim"),
		channels:        make(map[uint32]*channelState),
		runlists:        make(map[uint32][]uint32),
		regions:         make(map[uint64]types.Mem),
		nextVA:          BaseVA,
		allocsUntilFail: -1,
	}
}

// Dependencies returns the GPU wired as every hardware capability
func (g *GPU) Dependencies() interfaces.Dependencies {
	return interfaces.Dependencies{
		Channels:  g,
		Scheduler: g,
		Memory:    g,
		Power:     g,
	}
}

func (g *GPU) channel(chid uint32) *channelState {
	cs, ok := g.channels[chid]
	if !ok {
		cs = &channelState{}
		g.channels[chid] = cs
	}
	return cs
}

// Enable marks the channel runnable
func (g *GPU) Enable(chid uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channel(chid).hw.Enabled = true
}

// Disable marks the channel not runnable
func (g *GPU) Disable(chid uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channel(chid).hw.Enabled = false
}

// AbortCleanUp disables the channel and flags it faulted
func (g *GPU) AbortCleanUp(chid uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cs := g.channel(chid)
	cs.hw.Enabled = false
	cs.aborted = true
	g.stats.AbortClears++
}

// ReadState returns the channel's hardware state
func (g *GPU) ReadState(chid uint32) (types.ChannelHWState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.channel(chid).hw, nil
}

// ForceCtxReload requests a context reload on the channel
func (g *GPU) ForceCtxReload(chid uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cs := g.channel(chid)
	cs.ctxReloads++
	cs.hw.CtxReload = true
}

// SetEngMethodBuffer records the method buffer programmed for the channel
func (g *GPU) SetEngMethodBuffer(chid uint32, gpuVA uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channel(chid).methodBufVA = gpuVA
	return nil
}

// PreemptTSG preempts a group, honoring injected failures and hangs
func (g *GPU) PreemptTSG(ctx context.Context, tsgid uint32) error {
	g.mu.Lock()
	g.stats.Preempts++
	hang, err := g.preemptHang, g.preemptErr
	g.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	g.log.Debug("Group preempted", logger.WithField("tsgid", tsgid))
	return nil
}

// SubmitRunlist replaces the runlist contents
func (g *GPU) SubmitRunlist(runlistID uint32, chids []uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Submits++
	if g.runlistErr != nil {
		return g.runlistErr
	}
	g.runlists[runlistID] = append([]uint32(nil), chids...)
	return nil
}

// RingDoorbell notifies the scheduler that the channel has work
func (g *GPU) RingDoorbell(chid uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Doorbells++
	g.doorbell = append(g.doorbell, chid)
	return nil
}

// AllocMapSys allocates and maps a zeroed region
func (g *GPU) AllocMapSys(size uint64) (types.Mem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.allocsUntilFail == 0 {
		return types.Mem{}, fmt.Errorf("alloc %d bytes: %w", size, ErrInjected)
	}
	if g.allocsUntilFail > 0 {
		g.allocsUntilFail--
	}
	if size == 0 {
		return types.Mem{}, fmt.Errorf("alloc of zero bytes")
	}

	mem := types.Mem{GPUVA: g.nextVA, Size: size, CPU: make([]byte, size)}
	g.nextVA += size
	g.regions[mem.GPUVA] = mem
	g.stats.Allocs++
	return mem, nil
}

// UnmapFree releases a region. Freeing an unknown region is logged.
func (g *GPU) UnmapFree(mem types.Mem) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.regions[mem.GPUVA]; !ok {
		g.log.Error("Free of unmapped region", logger.WithField("va", fmt.Sprintf("%#x", mem.GPUVA)))
		return
	}
	delete(g.regions, mem.GPUVA)
	g.stats.Frees++
}

// Busy takes a power reference
func (g *GPU) Busy() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.BusyCalls++
	return g.busyErr
}

// Idle drops a power reference
func (g *GPU) Idle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.IdleCalls++
}
