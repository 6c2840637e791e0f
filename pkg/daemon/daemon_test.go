package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tsgd/tsgd/internal/state"
	"github.com/tsgd/tsgd/pkg/config"
	"github.com/tsgd/tsgd/pkg/daemon"
	"github.com/tsgd/tsgd/pkg/logger"
)

func testSettings(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewManager().GetDefaultConfig()
	cfg.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Platform.NumTSGs = 4
	cfg.Platform.NumChannels = 16
	return cfg
}

func TestDaemon_StartStop(t *testing.T) {
	settings := testSettings(t)
	d, err := daemon.NewManager(daemon.Config{Settings: settings, Logger: logger.NewNopLogger()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()
	if err := d.StartWithContext(ctx); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if !d.IsRunning() {
		t.Error("expected daemon to be running")
	}
	if err := d.StartWithContext(ctx); !errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
		t.Errorf("expected ErrDaemonAlreadyRunning, got %v", err)
	}

	resp, err := http.Get("http://" + d.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status %d", resp.StatusCode)
	}

	status, err := daemon.GetStatus(settings.StateDir)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if !status.Running || status.PID != os.Getpid() {
		t.Errorf("unexpected status %+v", status)
	}
	if status.State == nil || status.State.Metadata["addr"] != d.Addr() {
		t.Errorf("state file should record the listen address, got %+v", status.State)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.StopWithContext(stopCtx); err != nil {
		t.Fatalf("failed to stop daemon: %v", err)
	}
	if d.IsRunning() {
		t.Error("expected daemon to be stopped")
	}
	if err := d.StopWithContext(stopCtx); !errors.Is(err, daemon.ErrDaemonNotRunning) {
		t.Errorf("expected ErrDaemonNotRunning, got %v", err)
	}

	if _, err := os.Stat(state.Path(settings.StateDir)); !os.IsNotExist(err) {
		t.Error("state file should be removed on stop")
	}
	status, _ = daemon.GetStatus(settings.StateDir)
	if status.Running {
		t.Error("status should report stopped after shutdown")
	}
}

func TestDaemon_RunStopsWithContext(t *testing.T) {
	settings := testSettings(t)
	d, err := daemon.NewManager(daemon.Config{Settings: settings, Logger: logger.NewNopLogger()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !d.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !d.IsRunning() {
		t.Fatal("daemon did not start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDaemon_ListenFailure(t *testing.T) {
	settings := testSettings(t)
	settings.Server.Addr = "256.0.0.1:bad"

	d, err := daemon.NewManager(daemon.Config{Settings: settings, Logger: logger.NewNopLogger()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := d.StartWithContext(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
	if _, err := daemon.ReadPID(settings.StateDir); !os.IsNotExist(err) {
		t.Error("no PID file should be left behind")
	}
}

func TestDaemon_HotReload(t *testing.T) {
	settings := testSettings(t)
	path := filepath.Join(t.TempDir(), "tsgd.json")
	if err := os.WriteFile(path, []byte(`{"preemptTimeoutMs": 3000}`), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := daemon.NewManager(daemon.Config{ConfigPath: path, Settings: settings, Logger: logger.NewNopLogger()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := d.StartWithContext(context.Background()); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}
	defer d.StopWithContext(context.Background())

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"preemptTimeoutMs": 1234}`), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Second)
	os.Chtimes(path, future, future)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.Groups().PreemptTimeout() == 1234*time.Millisecond {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("preempt timeout not reloaded, still %v", d.Groups().PreemptTimeout())
}

func TestNewManager_InvalidPlatform(t *testing.T) {
	settings := testSettings(t)
	settings.Platform.NumTSGs = 0

	if _, err := daemon.NewManager(daemon.Config{Settings: settings, Logger: logger.NewNopLogger()}); err == nil {
		t.Error("expected error for platform without group slots")
	}
}
