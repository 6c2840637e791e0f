package tsg_test

import (
	"errors"
	"testing"

	"github.com/tsgd/tsgd/internal/tsg"
)

func TestAbort(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)
	c1, c2 := f.channel(0), f.channel(0)
	f.bindEx(g, c1, 0)
	f.bindEx(g, c2, 1)
	g.Enable()

	if err := g.Abort(f.ctx, true); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	for _, ch := range []uint32{c1.ID(), c2.ID()} {
		if !f.gpu.Aborted(ch) {
			t.Errorf("channel %d was not cleaned up", ch)
		}
	}
	if !c1.Unserviceable() || !c2.Unserviceable() {
		t.Error("aborted channels should be unserviceable")
	}
	if f.gpu.Stats().Preempts != 1 {
		t.Errorf("expected one preemption, got %d", f.gpu.Stats().Preempts)
	}
}

func TestAbort_WithoutPreempt(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)
	ch := f.channel(0)
	f.bindEx(g, ch, 0)

	if err := g.Abort(f.ctx, false); err != nil {
		t.Fatal(err)
	}
	if f.gpu.Stats().Preempts != 0 {
		t.Error("abort without preempt must not preempt")
	}
	if !f.gpu.Aborted(ch.ID()) {
		t.Error("channel was not cleaned up")
	}
}

func TestAbort_NotAbortable(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)
	ch := f.channel(0)
	f.bindEx(g, ch, 0)
	g.SetAbortable(false)

	if err := g.Abort(f.ctx, true); !errors.Is(err, tsg.ErrNotAbortable) {
		t.Fatalf("expected ErrNotAbortable, got %v", err)
	}
	if f.gpu.Aborted(ch.ID()) || ch.Unserviceable() {
		t.Error("non-abortable group must not clean up channels")
	}
	if f.gpu.Stats().Preempts != 0 {
		t.Error("non-abortable group must not be preempted")
	}
}

func TestAbort_PreemptFailureStillCleansUp(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)
	ch := f.channel(0)
	f.bindEx(g, ch, 0)

	f.gpu.SetPreemptError(errors.New("no ack"))
	err := g.Abort(f.ctx, true)
	if !errors.Is(err, tsg.ErrPreemptTimeout) {
		t.Fatalf("expected ErrPreemptTimeout, got %v", err)
	}
	if !f.gpu.Aborted(ch.ID()) {
		t.Error("clean-up must run even when preemption fails")
	}
	if got := g.Channels(); !equalIDs(got, []uint32{ch.ID()}) {
		t.Errorf("abort must not change membership, got %v", got)
	}
}

func TestRecoverRunlist(t *testing.T) {
	f := newFixture(t)

	target := f.open(0)
	guarded := f.open(0)
	elsewhere := f.open(1)
	guarded.SetAbortable(false)

	c1, c2, c3 := f.channel(0), f.channel(0), f.channel(1)
	f.bindEx(target, c1, 0)
	f.bindEx(guarded, c2, 0)
	f.bindEx(elsewhere, c3, 0)

	if err := f.mgr.RecoverRunlist(f.ctx, 0); err != nil {
		t.Fatalf("RecoverRunlist failed: %v", err)
	}

	if !f.gpu.Aborted(c1.ID()) {
		t.Error("abortable group on the faulted runlist should be aborted")
	}
	if f.gpu.Aborted(c2.ID()) {
		t.Error("non-abortable group must be skipped")
	}
	if f.gpu.Aborted(c3.ID()) {
		t.Error("groups on other runlists must be skipped")
	}
	for _, g := range []*tsg.Group{target, guarded, elsewhere} {
		if g.RefCount() != 1 {
			t.Errorf("tsg %d refcount %d after recovery", g.ID(), g.RefCount())
		}
	}
}

func TestRecoverRunlist_JoinsFailures(t *testing.T) {
	f := newFixture(t)
	a, b := f.open(0), f.open(0)
	f.bindEx(a, f.channel(0), 0)
	f.bindEx(b, f.channel(0), 0)

	f.gpu.SetPreemptError(errors.New("no ack"))
	err := f.mgr.RecoverRunlist(f.ctx, 0)
	if !errors.Is(err, tsg.ErrPreemptTimeout) {
		t.Fatalf("expected joined ErrPreemptTimeout, got %v", err)
	}
	if f.gpu.Stats().AbortClears != 2 {
		t.Errorf("expected both groups cleaned up, got %d", f.gpu.Stats().AbortClears)
	}
}
