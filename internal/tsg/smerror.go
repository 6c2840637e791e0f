package tsg

import (
	"fmt"
	"time"

	"github.com/tsgd/tsgd/pkg/types"
)

// RecordSMError stores the error state reported by one SM
func (g *Group) RecordSMError(sm uint32, state types.SMErrorState) error {
	g.smMu.Lock()
	defer g.smMu.Unlock()

	if sm >= uint32(len(g.smErrors)) {
		return fmt.Errorf("%w: sm %d out of range", ErrInvalidArgument, sm)
	}
	if state.RecordedAt.IsZero() {
		state.RecordedAt = time.Now()
	}
	g.smErrors[sm] = state
	return nil
}

// SMErrorState returns the last error state recorded for an SM
func (g *Group) SMErrorState(sm uint32) (types.SMErrorState, error) {
	g.smMu.Lock()
	defer g.smMu.Unlock()

	if sm >= uint32(len(g.smErrors)) {
		return types.SMErrorState{}, fmt.Errorf("%w: sm %d out of range", ErrInvalidArgument, sm)
	}
	return g.smErrors[sm], nil
}

// ClearSMErrors zeroes every recorded SM error state
func (g *Group) ClearSMErrors() {
	g.smMu.Lock()
	defer g.smMu.Unlock()

	for i := range g.smErrors {
		g.smErrors[i] = types.SMErrorState{}
	}
}

func (g *Group) freeSMErrorStates() {
	g.smMu.Lock()
	g.smErrors = nil
	g.smMu.Unlock()

	g.mgr.slotMu.Lock()
	g.slot.smErrors = nil
	g.mgr.slotMu.Unlock()
}
