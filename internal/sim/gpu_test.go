package sim_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tsgd/tsgd/internal/sim"
	"github.com/tsgd/tsgd/pkg/mocks"
	"github.com/tsgd/tsgd/pkg/types"
)

func TestAllocMapSys(t *testing.T) {
	log := mocks.NewMockLogger()
	gpu := sim.New(log)

	a, err := gpu.AllocMapSys(4096)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	b, _ := gpu.AllocMapSys(8192)
	if a.GPUVA != sim.BaseVA || b.GPUVA != sim.BaseVA+4096 {
		t.Errorf("unexpected addresses %#x %#x", a.GPUVA, b.GPUVA)
	}
	if !a.IsValid() || len(a.CPU) != 4096 {
		t.Errorf("region not backed: %+v", a)
	}
	if gpu.LiveRegions() != 2 {
		t.Errorf("expected 2 live regions, got %d", gpu.LiveRegions())
	}

	gpu.UnmapFree(a)
	gpu.UnmapFree(a)
	if gpu.LiveRegions() != 1 || gpu.Stats().Frees != 1 {
		t.Errorf("double free must not be counted: %+v", gpu.Stats())
	}
	if !log.Contains("error", "unmapped region") {
		t.Error("double free should be logged")
	}
}

func TestFailAllocAfter(t *testing.T) {
	gpu := sim.New(mocks.NewMockLogger())
	gpu.FailAllocAfter(1)

	if _, err := gpu.AllocMapSys(64); err != nil {
		t.Fatalf("first alloc should succeed: %v", err)
	}
	if _, err := gpu.AllocMapSys(64); !errors.Is(err, sim.ErrInjected) {
		t.Errorf("expected injected failure, got %v", err)
	}

	gpu.FailAllocAfter(-1)
	if _, err := gpu.AllocMapSys(64); err != nil {
		t.Errorf("fault should be cleared: %v", err)
	}
}

func TestPreemptTSG(t *testing.T) {
	gpu := sim.New(mocks.NewMockLogger())

	if err := gpu.PreemptTSG(context.Background(), 1); err != nil {
		t.Fatalf("preempt failed: %v", err)
	}

	gpu.SetPreemptHang(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gpu.PreemptTSG(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	gpu.SetPreemptHang(false)
	gpu.SetPreemptError(sim.ErrInjected)
	if err := gpu.PreemptTSG(context.Background(), 1); !errors.Is(err, sim.ErrInjected) {
		t.Errorf("expected injected error, got %v", err)
	}
	if gpu.Stats().Preempts != 3 {
		t.Errorf("expected 3 preempts, got %d", gpu.Stats().Preempts)
	}
}

func TestChannelState(t *testing.T) {
	gpu := sim.New(mocks.NewMockLogger())

	gpu.Enable(3)
	hw, _ := gpu.ReadState(3)
	if !hw.Enabled {
		t.Error("channel should be enabled")
	}

	gpu.AbortCleanUp(3)
	hw, _ = gpu.ReadState(3)
	if hw.Enabled || !gpu.Aborted(3) {
		t.Error("abort cleanup should disable and mark the channel")
	}

	gpu.SetHWState(4, types.ChannelHWState{Next: true})
	hw, _ = gpu.ReadState(4)
	if !hw.Next {
		t.Error("injected state not returned")
	}

	gpu.ForceCtxReload(4)
	if gpu.CtxReloads(4) != 1 {
		t.Errorf("expected one ctx reload, got %d", gpu.CtxReloads(4))
	}
}

func TestSubmitRunlist(t *testing.T) {
	gpu := sim.New(mocks.NewMockLogger())

	if err := gpu.SubmitRunlist(0, []uint32{1, 2}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	gpu.SetRunlistError(sim.ErrInjected)
	if err := gpu.SubmitRunlist(0, []uint32{1}); !errors.Is(err, sim.ErrInjected) {
		t.Errorf("expected injected error, got %v", err)
	}
	if got := gpu.Runlist(0); len(got) != 2 {
		t.Errorf("failed submit must keep the previous runlist, got %v", got)
	}
}
