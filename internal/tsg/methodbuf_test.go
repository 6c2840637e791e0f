package tsg_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tsgd/tsgd/internal/tsg"
)

func TestMethodBufferSize(t *testing.T) {
	tests := []struct {
		numPCE   uint32
		pageSize uint32
		want     uint64
	}{
		{0, 4096, 4096},
		{2, 4096, 4096},
		{10, 4096, 20480},
		{2, 65536, 65536},
		{4, 1, 27 * 5 * (13*4 + 2)},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("pce=%d page=%d", tt.numPCE, tt.pageSize), func(t *testing.T) {
			got, err := tsg.MethodBufferSize(tt.numPCE, tt.pageSize)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("MethodBufferSize = %d, want %d", got, tt.want)
			}
		})
	}

	if _, err := tsg.MethodBufferSize(2, 0); !errors.Is(err, tsg.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for zero page size, got %v", err)
	}
}

func TestMethodBuffers_AllOrNothing(t *testing.T) {
	numPBDMA := int(testPlatform().NumPBDMA)

	for n := 1; n <= numPBDMA; n++ {
		t.Run(fmt.Sprintf("fail allocation %d of %d", n, numPBDMA), func(t *testing.T) {
			f := newFixture(t)
			g := f.open(0)
			ch := f.channel(0)

			f.gpu.FailAllocAfter(n - 1)
			f.bindEx(g, ch, 0)

			if g.HasMethodBuffers() {
				t.Error("group must have no method buffers after a partial failure")
			}
			if live := f.gpu.LiveRegions(); live != 0 {
				t.Errorf("expected every partial region freed, %d live", live)
			}
			if stats := f.gpu.Stats(); stats.Allocs != stats.Frees {
				t.Errorf("allocs %d != frees %d", stats.Allocs, stats.Frees)
			}
			if f.gpu.MethodBufferVA(ch.ID()) != 0 {
				t.Error("channel must not be programmed without buffers")
			}

			// The next bind retries the allocation.
			f.gpu.FailAllocAfter(-1)
			f.bindEx(g, f.channel(0), 0)
			if !g.HasMethodBuffers() {
				t.Error("retry should allocate method buffers")
			}
			if live := f.gpu.LiveRegions(); live != numPBDMA {
				t.Errorf("expected %d live regions, got %d", numPBDMA, live)
			}
		})
	}
}

func TestMethodBuffers_DegradedPlatform(t *testing.T) {
	p := testPlatform()
	p.PageSize = 0
	f := newFixtureWith(t, p, nil)

	g := f.open(0)
	ch := f.channel(0)
	f.bindEx(g, ch, 0)

	if g.HasMethodBuffers() {
		t.Error("no buffers expected when the size cannot be computed")
	}
	if !ch.Bound() {
		t.Error("bind should still succeed in degraded mode")
	}
}
