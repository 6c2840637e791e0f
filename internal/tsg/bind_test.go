package tsg_test

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/tsgd/tsgd/internal/sim"
	"github.com/tsgd/tsgd/internal/tsg"
	"github.com/tsgd/tsgd/pkg/interfaces"
	"github.com/tsgd/tsgd/pkg/mocks"
	"github.com/tsgd/tsgd/pkg/types"
)

func TestBind_Membership(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)

	var chids []uint32
	for i := 0; i < 3; i++ {
		ch := f.channel(0)
		f.bindEx(g, ch, 0)
		chids = append(chids, ch.ID())

		if ch.GroupID() != g.ID() {
			t.Errorf("channel %d group id = %d, want %d", ch.ID(), ch.GroupID(), g.ID())
		}
	}

	if got := g.Channels(); !equalIDs(got, chids) {
		t.Errorf("Channels() = %v, want %v", got, chids)
	}
	if got := f.gpu.Runlist(0); !equalIDs(got, chids) {
		t.Errorf("runlist 0 = %v, want %v", got, chids)
	}
}

func TestBind_AlreadyBound(t *testing.T) {
	f := newFixture(t)
	g1 := f.open(0)
	g2 := f.open(0)
	ch := f.channel(0)
	f.bindEx(g1, ch, 0)

	tests := []struct {
		name  string
		group *tsg.Group
	}{
		{"same group", g1},
		{"other group", g2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.mgr.BindChannelEx(f.ctx, tt.group, ch, types.BindOptions{})
			if !errors.Is(err, tsg.ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
			if got := g1.Channels(); !equalIDs(got, []uint32{ch.ID()}) {
				t.Errorf("g1 membership changed: %v", got)
			}
			if got := g2.Channels(); len(got) != 0 {
				t.Errorf("g2 membership changed: %v", got)
			}
			if ch.GroupID() != g1.ID() {
				t.Errorf("channel owner changed to %d", ch.GroupID())
			}
		})
	}
}

func TestBind_RunlistMismatch(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)
	ch := f.channel(1)

	err := f.mgr.BindChannelEx(f.ctx, g, ch, types.BindOptions{SubcontextID: 1})
	if !errors.Is(err, tsg.ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
	if ch.Bound() || len(g.Channels()) != 0 {
		t.Error("mismatched bind must not mutate membership")
	}
	if subctx, _ := ch.Subcontext(); subctx != 0 {
		t.Errorf("mismatched bind must not change subcontext, got %d", subctx)
	}
	if g.HasMethodBuffers() {
		t.Error("mismatched bind must not allocate method buffers")
	}
}

func TestBind_SubcontextSelector(t *testing.T) {
	max := testPlatform().MaxSubctxCount

	tests := []struct {
		name    string
		subctx  uint32
		want    types.RunqueueSelector
		wantErr error
	}{
		{"veid0 is primary", 0, types.RunqueuePrimary, nil},
		{"first async subcontext", 1, types.RunqueueAsyncCopy, nil},
		{"last valid subcontext", max - 1, types.RunqueueAsyncCopy, nil},
		{"at max", max, 0, tsg.ErrInvalidArgument},
		{"far beyond max", max + 100, 0, tsg.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			g := f.open(0)
			ch := f.channel(0)

			err := f.mgr.BindChannelEx(f.ctx, g, ch, types.BindOptions{SubcontextID: tt.subctx})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if len(g.Channels()) != 0 || ch.Bound() {
					t.Error("failed bind must leave membership unchanged")
				}
				return
			}
			if err != nil {
				t.Fatalf("bind failed: %v", err)
			}
			subctx, sel := ch.Subcontext()
			if subctx != tt.subctx || sel != tt.want {
				t.Errorf("got subctx %d selector %s, want %d %s", subctx, sel, tt.subctx, tt.want)
			}
		})
	}
}

func TestBindChannel_KeepsSubcontext(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)
	ch := f.channel(0)

	ch.Lock()
	ch.SetSubcontextLocked(2, types.RunqueueAsyncCopy)
	ch.Unlock()

	if err := g.BindChannel(f.ctx, ch); err != nil {
		t.Fatalf("BindChannel failed: %v", err)
	}
	if subctx, sel := ch.Subcontext(); subctx != 2 || sel != types.RunqueueAsyncCopy {
		t.Errorf("plain bind changed subcontext to %d/%s", subctx, sel)
	}
}

func TestBind_PowerGating(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)
	maxTPC := testPlatform().MaxTPCCount

	for _, n := range []uint32{0, maxTPC + 1} {
		ch := f.channel(0)
		err := f.mgr.BindChannelEx(f.ctx, g, ch, types.BindOptions{
			PowerGating: types.PowerGatingOptions{Enabled: true, NumActiveUnits: n},
		})
		if !errors.Is(err, tsg.ErrInvalidArgument) {
			t.Errorf("%d active units: expected ErrInvalidArgument, got %v", n, err)
		}
		if ch.Bound() {
			t.Errorf("%d active units: channel should not be bound", n)
		}
	}

	first := f.channel(0)
	if err := f.mgr.BindChannelEx(f.ctx, g, first, types.BindOptions{
		PowerGating: types.PowerGatingOptions{Enabled: true, NumActiveUnits: 2},
	}); err != nil {
		t.Fatalf("first power gated bind failed: %v", err)
	}

	// Reconfiguration, even invalid, is ignored once initialized.
	second := f.channel(0)
	if err := f.mgr.BindChannelEx(f.ctx, g, second, types.BindOptions{
		PowerGating: types.PowerGatingOptions{Enabled: true, NumActiveUnits: maxTPC + 7},
	}); err != nil {
		t.Fatalf("second power gated bind failed: %v", err)
	}

	snap := g.Snapshot()
	if !snap.PowerGatingActive || snap.NumActiveTPCs != 2 {
		t.Errorf("group power gating changed: active=%v tpcs=%d", snap.PowerGatingActive, snap.NumActiveTPCs)
	}

	second.Lock()
	pg := second.PowerGatingLocked()
	second.Unlock()
	if pg {
		t.Error("later power gating request should be disabled for the channel")
	}
}

func TestBind_RunlistFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)
	ch := f.channel(0)

	f.gpu.SetRunlistError(errors.New("submit timeout"))
	err := f.mgr.BindChannelEx(f.ctx, g, ch, types.BindOptions{
		SubcontextID: 1,
		PowerGating:  types.PowerGatingOptions{Enabled: true, NumActiveUnits: 1},
	})
	if !errors.Is(err, tsg.ErrHardware) {
		t.Fatalf("expected ErrHardware, got %v", err)
	}
	if ch.Bound() || len(g.Channels()) != 0 {
		t.Error("failed runlist update must roll back membership")
	}
	if subctx, sel := ch.Subcontext(); subctx != 0 || sel != types.RunqueuePrimary {
		t.Errorf("subcontext not rolled back: %d/%s", subctx, sel)
	}
	if g.Snapshot().PowerGatingActive {
		t.Error("power gating not rolled back")
	}

	f.gpu.SetRunlistError(nil)
	f.bindEx(g, ch, 1)
	if got := f.gpu.Runlist(0); !equalIDs(got, []uint32{ch.ID()}) {
		t.Errorf("runlist 0 = %v after retry", got)
	}
}

func TestBind_MethodBufferSelection(t *testing.T) {
	tests := []struct {
		name     string
		runlist  uint32
		runqueue int
	}{
		{"graphics runlist uses gr runqueue", 0, types.GRRunqueue},
		{"fast copy runlist uses async ce runqueue", fastCERunlist, types.AsyncCERunqueue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			g := f.open(tt.runlist)
			ch := f.channel(tt.runlist)
			f.bindEx(g, ch, 0)

			size, err := tsg.MethodBufferSize(testPlatform().NumPCE, testPlatform().PageSize)
			if err != nil {
				t.Fatal(err)
			}
			// Regions are handed out back to back, one per runqueue.
			want := sim.BaseVA + uint64(tt.runqueue)*size
			if got := f.gpu.MethodBufferVA(ch.ID()); got != want {
				t.Errorf("programmed method buffer %#x, want %#x", got, want)
			}
		})
	}
}

func TestBind_NoCopyEnginesStillGetsBuffers(t *testing.T) {
	p := testPlatform()
	p.NumPCE = 0
	f := newFixtureWith(t, p, nil)

	g := f.open(0)
	ch := f.channel(0)
	f.bindEx(g, ch, 0)

	// One page per runqueue; the gr runqueue gets the first.
	if got := f.gpu.MethodBufferVA(ch.ID()); got != sim.BaseVA {
		t.Errorf("programmed method buffer %#x, want %#x", got, sim.BaseVA)
	}
}

func TestBindChannelEx_Power(t *testing.T) {
	t.Run("busy and idle bracket the bind", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		power := mocks.NewMockPowerManager(ctrl)
		gomock.InOrder(
			power.EXPECT().Busy().Return(nil),
			power.EXPECT().Idle(),
		)

		f := newFixtureWith(t, testPlatform(), func(d *interfaces.Dependencies) { d.Power = power })
		f.bindEx(f.open(0), f.channel(0), 0)
	})

	t.Run("busy failure aborts the bind", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		power := mocks.NewMockPowerManager(ctrl)
		power.EXPECT().Busy().Return(errors.New("rail down"))

		f := newFixtureWith(t, testPlatform(), func(d *interfaces.Dependencies) { d.Power = power })
		g := f.open(0)
		ch := f.channel(0)

		err := f.mgr.BindChannelEx(f.ctx, g, ch, types.BindOptions{})
		if !errors.Is(err, tsg.ErrHardware) {
			t.Fatalf("expected ErrHardware, got %v", err)
		}
		if ch.Bound() {
			t.Error("channel should not be bound")
		}
	})
}

func TestBind_Hook(t *testing.T) {
	t.Run("request carries binding", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		hook := mocks.NewMockBindHook(ctrl)

		f := newFixtureWith(t, testPlatform(), func(d *interfaces.Dependencies) { d.BindHook = hook })
		g := f.open(0)
		ch := f.channel(0)

		hook.EXPECT().BindChannel(gomock.Any(), types.BindChannelRequest{
			GroupID:       g.ID(),
			GroupGen:      g.Handle().Gen,
			RunlistID:     0,
			ChannelHandle: ch.Handle(),
			SubcontextID:  2,
			RunqueueSel:   types.RunqueueAsyncCopy,
		}).Return(nil)

		f.bindEx(g, ch, 2)
	})

	t.Run("runlist failure undoes the remote bind", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		hook := mocks.NewMockBindHook(ctrl)

		f := newFixtureWith(t, testPlatform(), func(d *interfaces.Dependencies) { d.BindHook = hook })
		g := f.open(0)
		ch := f.channel(0)
		req := types.BindChannelRequest{
			GroupID:       g.ID(),
			GroupGen:      g.Handle().Gen,
			ChannelHandle: ch.Handle(),
			SubcontextID:  1,
			RunqueueSel:   types.RunqueueAsyncCopy,
		}
		gomock.InOrder(
			hook.EXPECT().BindChannel(gomock.Any(), req).Return(nil),
			hook.EXPECT().UnbindChannel(gomock.Any(), req).Return(nil),
		)

		f.gpu.SetRunlistError(errors.New("submit timeout"))
		err := f.mgr.BindChannelEx(f.ctx, g, ch, types.BindOptions{SubcontextID: 1})
		if !errors.Is(err, tsg.ErrHardware) {
			t.Fatalf("expected ErrHardware, got %v", err)
		}
		if ch.Bound() || len(g.Channels()) != 0 {
			t.Error("runlist failure must roll back membership")
		}
	})

	t.Run("unbind reaches the hook before the runlist", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		hook := mocks.NewMockBindHook(ctrl)

		f := newFixtureWith(t, testPlatform(), func(d *interfaces.Dependencies) { d.BindHook = hook })
		g := f.open(0)
		ch := f.channel(0)

		hook.EXPECT().BindChannel(gomock.Any(), gomock.Any()).Return(nil)
		f.bindEx(g, ch, 0)

		hook.EXPECT().UnbindChannel(gomock.Any(), gomock.Any()).Return(tsg.ErrPreemptTimeout)
		if err := g.UnbindChannel(f.ctx, ch); !errors.Is(err, tsg.ErrPreemptTimeout) {
			t.Fatalf("expected remote failure, got %v", err)
		}
		if !ch.Bound() || len(f.gpu.Runlist(0)) != 1 {
			t.Error("remote unbind failure must leave the binding in place")
		}

		hook.EXPECT().UnbindChannel(gomock.Any(), gomock.Any()).Return(nil)
		if err := g.UnbindChannel(f.ctx, ch); err != nil {
			t.Fatalf("unbind failed: %v", err)
		}
		if ch.Bound() {
			t.Error("channel should be unbound")
		}
	})

	t.Run("hook failure rolls back", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		hook := mocks.NewMockBindHook(ctrl)
		hook.EXPECT().BindChannel(gomock.Any(), gomock.Any()).Return(tsg.ErrMismatch)

		f := newFixtureWith(t, testPlatform(), func(d *interfaces.Dependencies) { d.BindHook = hook })
		g := f.open(0)
		ch := f.channel(0)

		err := f.mgr.BindChannelEx(f.ctx, g, ch, types.BindOptions{SubcontextID: 1})
		if !errors.Is(err, tsg.ErrMismatch) {
			t.Fatalf("expected ErrMismatch from hook, got %v", err)
		}
		if ch.Bound() || len(g.Channels()) != 0 {
			t.Error("hook failure must roll back membership")
		}
		if len(f.gpu.Runlist(0)) != 0 {
			t.Error("runlist must not be updated after hook failure")
		}
	})
}

func TestBind_ClosedChannel(t *testing.T) {
	f := newFixture(t)
	g := f.open(0)

	stale := f.channel(0)
	if err := f.registry.Close(stale.ID()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !stale.Closed() {
		t.Fatal("channel should be marked closed")
	}

	err := f.mgr.BindChannelEx(f.ctx, g, stale, types.BindOptions{})
	if !errors.Is(err, tsg.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for a closed channel, got %v", err)
	}
	if stale.Bound() || len(g.Channels()) != 0 || len(f.gpu.Runlist(0)) != 0 {
		t.Error("rejected bind must not change membership or the runlist")
	}

	reopened := f.channel(0)
	if reopened.ID() != stale.ID() {
		t.Fatalf("expected channel id %d reused, got %d", stale.ID(), reopened.ID())
	}
	f.bindEx(g, reopened, 0)
}
