// Package state persists the group table of a running daemon so that
// `tsgd status` can read it without talking to the server.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

const (
	stateFileName = "tsgd.json"

	// DefaultHeartbeat is how often the state file is rewritten
	DefaultHeartbeat = 10 * time.Second

	// StaleAfter is the heartbeat age after which a daemon is presumed dead
	StaleAfter = 30 * time.Second
)

// SnapshotSource provides the group table to persist
type SnapshotSource interface {
	Snapshot() []types.GroupSnapshot
}

// DaemonState is the persisted view of a daemon
type DaemonState struct {
	ProcessID int                   `json:"processId"`
	StartedAt time.Time             `json:"startedAt"`
	Heartbeat time.Time             `json:"heartbeat"`
	Platform  types.Platform        `json:"platform"`
	Groups    []types.GroupSnapshot `json:"groups"`
	Metadata  map[string]string     `json:"metadata,omitempty"`
}

// Manager writes state files
type Manager struct {
	stateDir string
	source   SnapshotSource
	platform types.Platform
	logger   logger.Logger
	started  time.Time

	mu            sync.Mutex
	metadata      map[string]string
	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

// NewManager creates a state manager writing into stateDir
func NewManager(stateDir string, source SnapshotSource, platform types.Platform, log logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &Manager{
		stateDir: stateDir,
		source:   source,
		platform: platform,
		logger:   log.WithComponent("state"),
		started:  time.Now(),
		metadata: make(map[string]string),
	}, nil
}

// Path returns the state file path for a state directory
func Path(stateDir string) string {
	return filepath.Join(stateDir, stateFileName)
}

// SetMetadata records a key that is written with every snapshot
func (sm *Manager) SetMetadata(key, value string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.metadata[key] = value
}

// Write snapshots the group table and saves it
func (sm *Manager) Write() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	meta := make(map[string]string, len(sm.metadata))
	for k, v := range sm.metadata {
		meta[k] = v
	}

	st := &DaemonState{
		ProcessID: os.Getpid(),
		StartedAt: sm.started,
		Heartbeat: time.Now(),
		Platform:  sm.platform,
		Groups:    sm.source.Snapshot(),
		Metadata:  meta,
	}
	return save(Path(sm.stateDir), st)
}

// StartHeartbeat rewrites the state file every interval until ctx ends or
// StopHeartbeat is called.
func (sm *Manager) StartHeartbeat(ctx context.Context, interval time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatStop != nil {
		return
	}
	if interval <= 0 {
		interval = DefaultHeartbeat
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	sm.heartbeatStop = stop
	sm.heartbeatDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := sm.Write(); err != nil {
					sm.logger.Debug("Failed to update heartbeat", logger.WithError(err))
				}
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat and waits for it to exit
func (sm *Manager) StopHeartbeat() {
	sm.mu.Lock()
	stop, done := sm.heartbeatStop, sm.heartbeatDone
	sm.heartbeatStop, sm.heartbeatDone = nil, nil
	sm.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Cleanup stops the heartbeat and removes the state file
func (sm *Manager) Cleanup() error {
	sm.StopHeartbeat()

	if err := os.Remove(Path(sm.stateDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// Read loads the state file from stateDir
func Read(stateDir string) (*DaemonState, error) {
	data, err := os.ReadFile(Path(stateDir))
	if err != nil {
		return nil, err
	}

	var st DaemonState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &st, nil
}

// IsLive reports whether the daemon that wrote st still appears to run
func IsLive(st *DaemonState) bool {
	if st == nil || st.ProcessID <= 0 {
		return false
	}
	if time.Since(st.Heartbeat) > StaleAfter {
		return false
	}
	if st.ProcessID == os.Getpid() {
		return true
	}

	process, err := os.FindProcess(st.ProcessID)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func save(path string, st *DaemonState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
