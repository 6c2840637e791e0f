package tsg_test

import (
	"context"
	"testing"
	"time"

	"github.com/tsgd/tsgd/internal/channel"
	"github.com/tsgd/tsgd/internal/sim"
	"github.com/tsgd/tsgd/internal/tsg"
	"github.com/tsgd/tsgd/pkg/interfaces"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

const fastCERunlist = 1

func testPlatform() types.Platform {
	return types.Platform{
		NumTSGs:         4,
		NumChannels:     16,
		NumRunlists:     2,
		NumPBDMA:        3,
		NumPCE:          2,
		PageSize:        4096,
		MaxSubctxCount:  4,
		MaxTPCCount:     4,
		NumSM:           8,
		FastCERunlistID: fastCERunlist,
	}
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	gpu      *sim.GPU
	mgr      *tsg.Manager
	registry *channel.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, testPlatform(), nil)
}

// newFixtureWith builds a fixture; edit may replace capabilities before the
// manager is created.
func newFixtureWith(t *testing.T, p types.Platform, edit func(*interfaces.Dependencies)) *fixture {
	t.Helper()

	log := logger.NewNopLogger()
	gpu := sim.New(log)
	deps := gpu.Dependencies()
	if edit != nil {
		edit(&deps)
	}

	mgr, err := tsg.NewManager(deps, tsg.Options{
		Platform:       p,
		PreemptTimeout: 50 * time.Millisecond,
		Logger:         log,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	return &fixture{
		t:        t,
		ctx:      context.Background(),
		gpu:      gpu,
		mgr:      mgr,
		registry: channel.NewRegistry(p.NumChannels, p.NumRunlists, log),
	}
}

func (f *fixture) open(runlistID uint32) *tsg.Group {
	f.t.Helper()
	g, err := f.mgr.Open(f.ctx, runlistID)
	if err != nil {
		f.t.Fatalf("Open(%d) failed: %v", runlistID, err)
	}
	return g
}

func (f *fixture) channel(runlistID uint32) *channel.Channel {
	f.t.Helper()
	ch, err := f.registry.Open(runlistID)
	if err != nil {
		f.t.Fatalf("channel Open(%d) failed: %v", runlistID, err)
	}
	return ch
}

func (f *fixture) bindEx(g *tsg.Group, ch *channel.Channel, subctx uint32) {
	f.t.Helper()
	if err := f.mgr.BindChannelEx(f.ctx, g, ch, types.BindOptions{SubcontextID: subctx}); err != nil {
		f.t.Fatalf("BindChannelEx(tsg %d, ch %d, subctx %d) failed: %v", g.ID(), ch.ID(), subctx, err)
	}
}

func (f *fixture) enabled(ch *channel.Channel) bool {
	hw, _ := f.gpu.ReadState(ch.ID())
	return hw.Enabled
}

func equalIDs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
