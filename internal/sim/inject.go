package sim

import "github.com/tsgd/tsgd/pkg/types"

// FailAllocAfter lets n allocations succeed and fails the next one.
// A negative n disables the fault.
func (g *GPU) FailAllocAfter(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allocsUntilFail = n
}

// SetPreemptError makes every preemption fail with err
func (g *GPU) SetPreemptError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.preemptErr = err
}

// SetPreemptHang makes preemption block until its context expires
func (g *GPU) SetPreemptHang(hang bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.preemptHang = hang
}

// SetRunlistError makes runlist submission fail with err
func (g *GPU) SetRunlistError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runlistErr = err
}

// SetBusyError makes power acquisition fail with err
func (g *GPU) SetBusyError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busyErr = err
}

// SetHWState overrides the channel's hardware state
func (g *GPU) SetHWState(chid uint32, hw types.ChannelHWState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channel(chid).hw = hw
}

// Stats returns a copy of the call counters
func (g *GPU) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// LiveRegions returns the number of allocated regions
func (g *GPU) LiveRegions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.regions)
}

// Region returns the host view of the region mapped at va
func (g *GPU) Region(va uint64) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	mem, ok := g.regions[va]
	return mem.CPU, ok
}

// Runlist returns the last submitted contents of a runlist
func (g *GPU) Runlist(runlistID uint32) []uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uint32(nil), g.runlists[runlistID]...)
}

// Doorbells returns the channels rung so far, in order
func (g *GPU) Doorbells() []uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uint32(nil), g.doorbell...)
}

// MethodBufferVA returns the method buffer programmed for a channel
func (g *GPU) MethodBufferVA(chid uint32) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.channel(chid).methodBufVA
}

// CtxReloads returns how often a context reload was forced on the channel
func (g *GPU) CtxReloads(chid uint32) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.channel(chid).ctxReloads
}

// Aborted reports whether abort clean-up ran on the channel
func (g *GPU) Aborted(chid uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.channel(chid).aborted
}
