package tsg

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/tsgd/tsgd/pkg/interfaces"
)

// runlist tracks which channels are active on one hardware runlist and
// resubmits the list whenever membership changes.
type runlist struct {
	id     uint32
	mu     sync.Mutex
	active *bitset.BitSet
}

func newRunlist(id, numChannels uint32) *runlist {
	return &runlist{id: id, active: bitset.New(uint(numChannels))}
}

func (r *runlist) isActive(chid uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active.Test(uint(chid))
}

// entriesLocked lists active channels in id order
func (r *runlist) entriesLocked() []uint32 {
	out := make([]uint32, 0, r.active.Count())
	for i, ok := r.active.NextSet(0); ok; i, ok = r.active.NextSet(i + 1) {
		out = append(out, uint32(i))
	}
	return out
}

// add marks chid active and submits. The bit is cleared again if the
// submission fails.
func (r *runlist) add(sched interfaces.Scheduler, chid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active.Set(uint(chid))
	if err := sched.SubmitRunlist(r.id, r.entriesLocked()); err != nil {
		r.active.Clear(uint(chid))
		return err
	}
	return nil
}

// remove clears chids and submits. The bits are restored if the
// submission fails.
func (r *runlist) remove(sched interfaces.Scheduler, chids ...uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := make([]uint32, 0, len(chids))
	for _, chid := range chids {
		if r.active.Test(uint(chid)) {
			r.active.Clear(uint(chid))
			cleared = append(cleared, chid)
		}
	}
	if len(cleared) == 0 {
		return nil
	}
	if err := sched.SubmitRunlist(r.id, r.entriesLocked()); err != nil {
		for _, chid := range cleared {
			r.active.Set(uint(chid))
		}
		return err
	}
	return nil
}
