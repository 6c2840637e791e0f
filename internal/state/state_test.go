package state_test

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tsgd/tsgd/internal/state"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

type fakeSource struct {
	calls  atomic.Int32
	groups []types.GroupSnapshot
}

func (f *fakeSource) Snapshot() []types.GroupSnapshot {
	f.calls.Add(1)
	return f.groups
}

func newManager(t *testing.T, src state.SnapshotSource) (*state.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	sm, err := state.NewManager(dir, src, types.Platform{NumTSGs: 4}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return sm, dir
}

func TestManager_WriteAndRead(t *testing.T) {
	src := &fakeSource{groups: []types.GroupSnapshot{
		{ID: 1, RunlistID: 0, RefCount: 2, State: types.GroupStateBound,
			Channels: []types.ChannelSnapshot{{ID: 5, SubcontextID: 1, Runqueue: types.RunqueueAsyncCopy}}},
	}}
	sm, dir := newManager(t, src)
	sm.SetMetadata("addr", "127.0.0.1:7070")

	if err := sm.Write(); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	st, err := state.Read(dir)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if st.ProcessID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), st.ProcessID)
	}
	if st.Platform.NumTSGs != 4 {
		t.Errorf("platform not persisted: %+v", st.Platform)
	}
	if len(st.Groups) != 1 || st.Groups[0].Channels[0].Runqueue != types.RunqueueAsyncCopy {
		t.Errorf("groups not persisted: %+v", st.Groups)
	}
	if st.Metadata["addr"] != "127.0.0.1:7070" {
		t.Errorf("metadata not persisted: %v", st.Metadata)
	}
	if !state.IsLive(st) {
		t.Error("state written by this process should be live")
	}

	if _, err := os.Stat(state.Path(dir) + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should not remain")
	}
}

func TestIsLive(t *testing.T) {
	tests := []struct {
		name string
		st   *state.DaemonState
		want bool
	}{
		{"nil", nil, false},
		{"no pid", &state.DaemonState{Heartbeat: time.Now()}, false},
		{"stale heartbeat", &state.DaemonState{ProcessID: os.Getpid(), Heartbeat: time.Now().Add(-time.Hour)}, false},
		{"fresh", &state.DaemonState{ProcessID: os.Getpid(), Heartbeat: time.Now()}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := state.IsLive(tt.st); got != tt.want {
				t.Errorf("IsLive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManager_Heartbeat(t *testing.T) {
	src := &fakeSource{}
	sm, dir := newManager(t, src)

	sm.StartHeartbeat(context.Background(), 10*time.Millisecond)
	sm.StartHeartbeat(context.Background(), 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sm.StopHeartbeat()

	if src.calls.Load() < 2 {
		t.Fatalf("expected heartbeat writes, got %d", src.calls.Load())
	}
	if _, err := state.Read(dir); err != nil {
		t.Errorf("heartbeat should leave a readable state file: %v", err)
	}

	calls := src.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if src.calls.Load() != calls {
		t.Error("heartbeat kept running after StopHeartbeat")
	}
}

func TestManager_Cleanup(t *testing.T) {
	sm, dir := newManager(t, &fakeSource{})
	if err := sm.Write(); err != nil {
		t.Fatal(err)
	}
	if err := sm.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := state.Read(dir); !os.IsNotExist(err) {
		t.Errorf("expected state file removed, got %v", err)
	}
	if err := sm.Cleanup(); err != nil {
		t.Errorf("second Cleanup should be a no-op, got %v", err)
	}
}
