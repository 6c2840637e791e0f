package tsg

import (
	"context"
	"errors"
	"testing"

	"github.com/tsgd/tsgd/internal/sim"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

func TestOpen_StaleSMErrorState(t *testing.T) {
	gpu := sim.New(logger.NewNopLogger())
	m, err := NewManager(gpu.Dependencies(), Options{Platform: types.Platform{
		NumTSGs: 1, NumChannels: 4, NumRunlists: 1, NumPBDMA: 1, PageSize: 4096, NumSM: 2,
	}})
	if err != nil {
		t.Fatal(err)
	}

	m.slots[0].smErrors = make([]types.SMErrorState, 2)

	if _, err := m.Open(context.Background(), 0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if m.CheckAndGet(0) != nil {
		t.Error("slot should not stay in use after a failed open")
	}
}
