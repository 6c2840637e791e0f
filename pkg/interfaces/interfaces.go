// Package interfaces provides abstractions for dependency injection and testability
package interfaces

//go:generate mockgen -destination=../mocks/gomock.go -package=mocks github.com/tsgd/tsgd/pkg/interfaces PowerManager,BindHook

import (
	"context"

	"github.com/tsgd/tsgd/pkg/types"
)

// ChannelOps programs per-channel hardware state
type ChannelOps interface {
	Enable(chid uint32)
	Disable(chid uint32)
	// AbortCleanUp marks the channel faulted and stops further submission
	AbortCleanUp(chid uint32)
	ReadState(chid uint32) (types.ChannelHWState, error)
	ForceCtxReload(chid uint32)
	// SetEngMethodBuffer writes the method buffer address into the
	// channel's instance block.
	SetEngMethodBuffer(chid uint32, gpuVA uint64) error
}

// Scheduler drives the hardware scheduler
type Scheduler interface {
	// PreemptTSG blocks until the group is preempted or ctx expires
	PreemptTSG(ctx context.Context, tsgid uint32) error
	SubmitRunlist(runlistID uint32, chids []uint32) error
	RingDoorbell(chid uint32) error
}

// MemoryManager allocates GPU-mapped system memory
type MemoryManager interface {
	AllocMapSys(size uint64) (types.Mem, error)
	UnmapFree(mem types.Mem)
}

// PowerManager keeps the device powered across an operation
type PowerManager interface {
	Busy() error
	Idle()
}

// BindHook is consulted after local membership is recorded. Remote
// deployments forward the request to the host scheduler through it.
// UnbindChannel also undoes a BindChannel whose local bind failed later.
type BindHook interface {
	BindChannel(ctx context.Context, req types.BindChannelRequest) error
	UnbindChannel(ctx context.Context, req types.BindChannelRequest) error
}

// VM is a reference-counted address space a group can own
type VM interface {
	Get()
	Put()
}

// Dependencies contains all injectable hardware capabilities
type Dependencies struct {
	Channels  ChannelOps
	Scheduler Scheduler
	Memory    MemoryManager
	Power     PowerManager
	BindHook  BindHook
}
