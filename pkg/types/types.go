// Package types provides the shared value types for tsgd
package types

import (
	"fmt"
	"time"
)

// InvalidGroupID marks a channel that is not bound to any group
const InvalidGroupID = ^uint32(0)

// InvalidRunlistID marks an unset runlist
const InvalidRunlistID = ^uint32(0)

// Engine queue (PBDMA) indices that carry method buffers.
const (
	GRRunqueue      = 0 // pbdma 0
	AsyncCERunqueue = 2 // pbdma 2
)

// SubcontextVEID0 is the primary subcontext
const SubcontextVEID0 uint32 = 0

// RunqueueSelector chooses which runqueue a channel's work is dispatched through
type RunqueueSelector uint32

const (
	RunqueuePrimary   RunqueueSelector = 0
	RunqueueAsyncCopy RunqueueSelector = 1
)

// String implements fmt.Stringer
func (r RunqueueSelector) String() string {
	switch r {
	case RunqueuePrimary:
		return "primary"
	case RunqueueAsyncCopy:
		return "async-copy"
	default:
		return fmt.Sprintf("runqueue(%d)", uint32(r))
	}
}

// SelectorForSubcontext derives the runqueue selector from a subcontext id.
// All asynchronous subcontexts share the async-copy runqueue.
func SelectorForSubcontext(subctxID uint32) RunqueueSelector {
	if subctxID > SubcontextVEID0 {
		return RunqueueAsyncCopy
	}
	return RunqueuePrimary
}

// GroupState represents the scheduling state of a group
type GroupState string

const (
	GroupStateIdle      GroupState = "idle"
	GroupStateBound     GroupState = "bound"
	GroupStateAborting  GroupState = "aborting"
	GroupStateDestroyed GroupState = "destroyed"
)

// Platform describes the GPU the manager runs against
type Platform struct {
	NumTSGs         uint32 `json:"numTsgs" yaml:"numTsgs"`
	NumChannels     uint32 `json:"numChannels" yaml:"numChannels"`
	NumRunlists     uint32 `json:"numRunlists" yaml:"numRunlists"`
	NumPBDMA        uint32 `json:"numPbdma" yaml:"numPbdma"`
	NumPCE          uint32 `json:"numPce" yaml:"numPce"`
	PageSize        uint32 `json:"pageSize" yaml:"pageSize"`
	MaxSubctxCount  uint32 `json:"maxSubctxCount" yaml:"maxSubctxCount"`
	MaxTPCCount     uint32 `json:"maxTpcCount" yaml:"maxTpcCount"`
	NumSM           uint32 `json:"numSm" yaml:"numSm"`
	FastCERunlistID uint32 `json:"fastCeRunlistId" yaml:"fastCeRunlistId"`
}

// PowerGatingOptions requests dynamic TPC power gating for a group
type PowerGatingOptions struct {
	Enabled        bool   `json:"enabled"`
	NumActiveUnits uint32 `json:"num_active_units"`
}

// BindOptions carries the extended bind arguments
type BindOptions struct {
	SubcontextID uint32             `json:"subcontext_id"`
	PowerGating  PowerGatingOptions `json:"power_gating"`
}

// ChannelHWState is the hardware-visible state of a channel as read back
// from the scheduler.
type ChannelHWState struct {
	Enabled    bool
	Next       bool
	CtxReload  bool
	EngFaulted bool
	Busy       bool
}

// Mem is a mapped system-memory region. CPU is the host view of the
// region's contents.
type Mem struct {
	GPUVA uint64
	Size  uint64
	CPU   []byte
}

// IsValid reports whether the region is backed
func (m Mem) IsValid() bool {
	return m.Size > 0 && len(m.CPU) > 0
}

// BindChannelRequest is the payload handed to the bind hook, and the body of
// the remote BindChannelEx and unbind messages. Group and channel ids are
// the guest's own; the host maps them per Guest.
type BindChannelRequest struct {
	Guest         string           `json:"guest,omitempty"`
	GroupID       uint32           `json:"tsg_id"`
	GroupGen      uint32           `json:"tsg_gen"`
	RunlistID     uint32           `json:"runlist_id"`
	ChannelHandle uint64           `json:"ch_handle"`
	SubcontextID  uint32           `json:"subctx_id"`
	RunqueueSel   RunqueueSelector `json:"runqueue_sel"`
}

// SMErrorState is the diagnostic record kept per SM
type SMErrorState struct {
	HWWGlobalEsr    uint32    `json:"hwwGlobalEsr"`
	HWWWarpEsr      uint32    `json:"hwwWarpEsr"`
	HWWWarpEsrPC    uint64    `json:"hwwWarpEsrPc"`
	HWWGlobalEsrRpt uint32    `json:"hwwGlobalEsrReportMask"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// ChannelSnapshot is a point-in-time copy of a bound channel
type ChannelSnapshot struct {
	ID           uint32           `json:"id"`
	SubcontextID uint32           `json:"subcontextId"`
	Runqueue     RunqueueSelector `json:"runqueue"`
	Enabled      bool             `json:"enabled"`
	Faulted      bool             `json:"faulted"`
}

// GroupSnapshot is a point-in-time copy of a group
type GroupSnapshot struct {
	ID                uint32            `json:"id"`
	Generation        uint32            `json:"generation"`
	RunlistID         uint32            `json:"runlistId"`
	RefCount          int32             `json:"refCount"`
	State             GroupState        `json:"state"`
	Abortable         bool              `json:"abortable"`
	Channels          []ChannelSnapshot `json:"channels"`
	MethodBuffers     int               `json:"methodBuffers"`
	PowerGatingActive bool              `json:"powerGatingActive"`
	NumActiveTPCs     uint32            `json:"numActiveTpcs,omitempty"`
	TakenAt           time.Time         `json:"takenAt"`
}
