package tsg

import (
	"encoding/binary"
	"fmt"

	"github.com/tsgd/tsgd/pkg/interfaces"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

// Method buffer header, little endian 32-bit words.
const (
	methodBufPendingWord = 0 // pending method count
	methodBufOwnerWord   = 1 // chid that saved the methods
)

// MethodBufferSize returns the per-queue method buffer size for the given
// copy engine count, rounded up to a whole page.
func MethodBufferSize(numPCE, pageSize uint32) (uint64, error) {
	if pageSize == 0 {
		return 0, fmt.Errorf("%w: zero page size", ErrInvalidArgument)
	}
	size := 27 * 5 * ((9+1+3)*uint64(numPCE) + 2)
	page := uint64(pageSize)
	return (size + page - 1) / page * page, nil
}

// allocMethodBuffers allocates count regions of size bytes. On failure every
// region allocated so far is freed and nil is returned.
func allocMethodBuffers(mm interfaces.MemoryManager, count uint32, size uint64) ([]types.Mem, error) {
	bufs := make([]types.Mem, 0, count)
	for q := uint32(0); q < count; q++ {
		mem, err := mm.AllocMapSys(size)
		if err != nil {
			for i := len(bufs) - 1; i >= 0; i-- {
				mm.UnmapFree(bufs[i])
			}
			return nil, fmt.Errorf("%w: method buffer for runqueue %d: %v", ErrResourceExhausted, q, err)
		}
		bufs = append(bufs, mem)
	}
	return bufs, nil
}

// initMethodBuffers allocates the group's method buffers if absent. Failure
// leaves the group without buffers; binding continues in a degraded mode.
func (g *Group) initMethodBuffers(log logger.Logger) {
	m := g.mgr

	g.bufMu.Lock()
	defer g.bufMu.Unlock()

	if g.methodBufs != nil {
		return
	}

	size, err := MethodBufferSize(m.platform.NumPCE, m.platform.PageSize)
	if err != nil || size == 0 {
		log.Warn("Method buffer size is zero, copy engine will hit method buffer faults",
			logger.WithField("tsgid", g.id))
		return
	}

	bufs, err := allocMethodBuffers(m.deps.Memory, m.platform.NumPBDMA, size)
	m.metrics.MethodBufferAlloc(err)
	if err != nil {
		log.Error("Could not allocate engine method buffers",
			logger.WithField("tsgid", g.id),
			logger.WithError(err))
		return
	}
	g.methodBufs = bufs
	log.Debug("Engine method buffers allocated",
		logger.WithField("tsgid", g.id),
		logger.WithField("count", len(bufs)),
		logger.WithField("size", size))
}

// freeMethodBuffers releases every region. No-op when never allocated.
func (g *Group) freeMethodBuffers() {
	g.bufMu.Lock()
	defer g.bufMu.Unlock()

	for _, mem := range g.methodBufs {
		g.mgr.deps.Memory.UnmapFree(mem)
	}
	g.methodBufs = nil
}

// bindMethodBuffer programs the channel with the runqueue buffer its group
// dispatches through.
func (g *Group) bindMethodBuffer(chid uint32, log logger.Logger) {
	m := g.mgr

	g.bufMu.Lock()
	defer g.bufMu.Unlock()

	if g.methodBufs == nil {
		log.Debug("No engine method buffers", logger.WithField("tsgid", g.id))
		return
	}

	q := types.GRRunqueue
	if g.runlistID == m.platform.FastCERunlistID {
		q = types.AsyncCERunqueue
	}
	if q >= len(g.methodBufs) {
		log.Warn("Runqueue has no method buffer",
			logger.WithField("tsgid", g.id),
			logger.WithField("runqueue", q))
		return
	}

	if err := m.deps.Channels.SetEngMethodBuffer(chid, g.methodBufs[q].GPUVA); err != nil {
		log.Warn("Could not program engine method buffer",
			logger.WithField("chid", chid),
			logger.WithError(err))
	}
}

// clearFaultedMethodBuffer invalidates the async copy buffer when the
// faulted channel is the one that saved methods into it.
func (g *Group) clearFaultedMethodBuffer(chid uint32) {
	g.bufMu.Lock()
	defer g.bufMu.Unlock()

	if len(g.methodBufs) <= types.AsyncCERunqueue {
		return
	}
	buf := g.methodBufs[types.AsyncCERunqueue].CPU
	if len(buf) < 4*(methodBufOwnerWord+1) {
		return
	}

	owner := binary.LittleEndian.Uint32(buf[4*methodBufOwnerWord:])
	if owner == chid {
		binary.LittleEndian.PutUint32(buf[4*methodBufPendingWord:], 0)
	}
}
