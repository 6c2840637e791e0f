// Package daemon runs the group manager as a long-lived service
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tsgd/tsgd/internal/channel"
	"github.com/tsgd/tsgd/internal/sim"
	"github.com/tsgd/tsgd/internal/state"
	"github.com/tsgd/tsgd/internal/tsg"
	"github.com/tsgd/tsgd/pkg/config"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/metrics"
	"github.com/tsgd/tsgd/pkg/server"
	"github.com/tsgd/tsgd/pkg/vgpu"
)

const pidFileName = "daemon.pid"

// ShutdownTimeout bounds graceful shutdown in Run
const ShutdownTimeout = 30 * time.Second

// Config represents daemon configuration
type Config struct {
	// ConfigPath enables hot reload when set
	ConfigPath string
	Settings   *config.Config
	// Logger overrides the logger built from Settings.Log
	Logger logger.Logger
}

// Manager manages the tsgd daemon
type Manager struct {
	settings   *config.Config
	configPath string
	pidFile    string
	stateDir   string
	logger     logger.Logger
	rootLogger logger.Logger

	gpu      *sim.GPU
	metrics  *metrics.Metrics
	groups   *tsg.Manager
	channels *channel.Registry
	state    *state.Manager
	reload   *config.ReloadManager

	mu         sync.RWMutex
	running    bool
	httpServer *http.Server
	listener   net.Listener
	serveDone  chan struct{}
	cancel     context.CancelFunc
}

// NewManager builds the daemon and all of its components
func NewManager(c Config) (*Manager, error) {
	settings := c.Settings
	if settings == nil {
		settings = config.NewManager().GetDefaultConfig()
	}

	root := c.Logger
	if root == nil {
		root = logger.CreateLogger(settings.Log.File, settings.Log.Level)
	}
	log := root.WithComponent("daemon")

	gpu := sim.New(root)
	deps := gpu.Dependencies()
	if settings.Remote != nil {
		guest := settings.Remote.Guest
		if guest == "" {
			guest = uuid.NewString()
		}
		deps.BindHook = vgpu.NewClient(settings.Remote.Endpoint, guest, settings.Remote.Timeout(), root)
		log.Info("Forwarding binds to host",
			logger.WithField("endpoint", settings.Remote.Endpoint),
			logger.WithField("guest", guest))
	}

	m := metrics.New()
	groups, err := tsg.NewManager(deps, tsg.Options{
		Platform:       settings.Platform,
		PreemptTimeout: settings.PreemptTimeout(),
		Logger:         root,
		Metrics:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create group manager: %w", err)
	}

	st, err := state.NewManager(settings.StateDir, groups, settings.Platform, root)
	if err != nil {
		return nil, err
	}
	st.SetMetadata("addr", settings.Server.Addr)

	d := &Manager{
		settings:   settings,
		configPath: c.ConfigPath,
		pidFile:    filepath.Join(settings.StateDir, pidFileName),
		stateDir:   settings.StateDir,
		logger:     log,
		rootLogger: root,
		gpu:        gpu,
		metrics:    m,
		groups:     groups,
		channels:   channel.NewRegistry(settings.Platform.NumChannels, settings.Platform.NumRunlists, root),
		state:      st,
	}
	if c.ConfigPath != "" {
		d.reload = config.NewReloadManager(c.ConfigPath, root)
		d.reload.AddCallback(d.applyConfig)
	}
	return d, nil
}

// StartWithContext starts serving. The daemon stops when ctx ends or
// StopWithContext is called.
func (m *Manager) StartWithContext(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.isRunning() {
		return ErrDaemonAlreadyRunning
	}

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	ln, err := net.Listen("tcp", m.settings.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.settings.Server.Addr, err)
	}

	if err := m.writePIDFile(); err != nil {
		ln.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	srv := server.New(m.groups, m.channels, m.rootLogger, server.WithMetrics(m.metrics))
	m.httpServer = &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	m.listener = ln
	m.serveDone = make(chan struct{})

	go func(hs *http.Server, done chan struct{}) {
		defer close(done)
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("HTTP server stopped", logger.WithError(err))
		}
	}(m.httpServer, m.serveDone)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.state.SetMetadata("addr", ln.Addr().String())
	if err := m.state.Write(); err != nil {
		m.logger.Warn("Failed to write state file", logger.WithError(err))
	}
	m.state.StartHeartbeat(runCtx, m.settings.Heartbeat())

	if m.reload != nil {
		if err := m.reload.StartWatching(); err != nil {
			m.logger.Warn("Configuration hot reload disabled", logger.WithError(err))
		}
	}

	m.running = true
	m.logger.Success("Daemon started",
		logger.WithField("addr", ln.Addr().String()),
		logger.WithField("pid", os.Getpid()),
		logger.WithField("tsgs", m.settings.Platform.NumTSGs))
	return nil
}

// StopWithContext shuts the HTTP server down and removes runtime files
func (m *Manager) StopWithContext(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrDaemonNotRunning
	}

	m.logger.Info("Stopping daemon...")

	if m.reload != nil {
		m.reload.StopWatching()
	}

	var shutdownErr error
	if err := m.httpServer.Shutdown(ctx); err != nil {
		shutdownErr = fmt.Errorf("http shutdown: %w", err)
		m.httpServer.Close()
	}
	<-m.serveDone

	m.cancel()
	if err := m.state.Cleanup(); err != nil {
		m.logger.Warn("Failed to clean up state", logger.WithError(err))
	}
	m.removePIDFile()

	m.running = false
	m.logger.Info("Daemon stopped")
	return shutdownErr
}

// Run starts the daemon and blocks until ctx ends, then shuts down
func (m *Manager) Run(ctx context.Context) error {
	if err := m.StartWithContext(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	m.logger.Info("Daemon context cancelled", logger.WithField("reason", ctx.Err()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return m.StopWithContext(shutdownCtx)
}

// IsRunning reports whether this manager is serving
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Addr returns the address the server listens on, or "" when stopped
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return ""
	}
	return m.listener.Addr().String()
}

// Groups returns the group manager
func (m *Manager) Groups() *tsg.Manager {
	return m.groups
}

// Channels returns the channel registry
func (m *Manager) Channels() *channel.Registry {
	return m.channels
}

// GPU returns the simulated hardware backend
func (m *Manager) GPU() *sim.GPU {
	return m.gpu
}

// applyConfig applies the settings that can change without a restart
func (m *Manager) applyConfig(cfg *config.Config, err error) {
	if err != nil {
		m.logger.Warn("Ignoring configuration change", logger.WithError(err))
		return
	}

	if !logger.SetLevel(m.rootLogger, cfg.Log.Level) {
		m.logger.Debug("Logger does not support live level changes")
	}
	m.groups.SetPreemptTimeout(cfg.PreemptTimeout())

	if cfg.Platform != m.settings.Platform || cfg.Server.Addr != m.settings.Server.Addr {
		m.logger.Warn("Platform and server changes take effect after restart")
	}

	m.logger.Info("Configuration applied",
		logger.WithField("logLevel", cfg.Log.Level),
		logger.WithField("preemptTimeout", cfg.PreemptTimeout().String()))
}

// isRunning reports whether another live process owns the PID file
func (m *Manager) isRunning() bool {
	pid, err := m.readPIDFile()
	if err != nil {
		return false
	}
	return processAlive(pid)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (m *Manager) writePIDFile() error {
	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func (m *Manager) readPIDFile() (int, error) {
	return ReadPID(m.stateDir)
}

func (m *Manager) removePIDFile() {
	os.Remove(m.pidFile)
}

// ReadPID returns the PID recorded in stateDir
func ReadPID(stateDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, pidFileName))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// Status represents daemon status as seen from another process
type Status struct {
	Running bool
	PID     int
	State   *state.DaemonState
}

// GetStatus inspects the PID and state files in stateDir
func GetStatus(stateDir string) (*Status, error) {
	pid, err := ReadPID(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Status{}, nil
		}
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}

	status := &Status{PID: pid, Running: processAlive(pid)}
	if st, err := state.Read(stateDir); err == nil {
		status.State = st
		status.Running = status.Running && state.IsLive(st)
	}
	return status, nil
}
