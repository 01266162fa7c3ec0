package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ProviderState tracks where a provider process is in its lifecycle.
type ProviderState string

const (
	StateStarting    ProviderState = "starting"
	StateHandshaking ProviderState = "handshaking"
	StateReady       ProviderState = "ready"
	StateDegraded    ProviderState = "degraded"
	StateCrashed     ProviderState = "crashed"
	StateTerminated  ProviderState = "terminated"
)

// ProviderProcess is one supervised provider: descriptor, OS process and the
// protocol client bound to its pipes. The supervisor owns it exclusively.
type ProviderProcess struct {
	Descriptor ProviderDescriptor

	mu       sync.Mutex
	cmd      *exec.Cmd
	client   *Client
	cancel   context.CancelFunc
	state    ProviderState
	tools    []ToolDescriptor
	restarts int
	stopping bool
	done     chan struct{}
}

// State reports the current lifecycle state.
func (p *ProviderProcess) State() ProviderState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Client returns the protocol client for the current process generation,
// or nil when the provider is not running.
func (p *ProviderProcess) Client() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// Tools returns the capability list reported at the last handshake.
func (p *ProviderProcess) Tools() []ToolDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ToolDescriptor, len(p.tools))
	copy(out, p.tools)
	return out
}

func (p *ProviderProcess) setState(s ProviderState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// SupervisorConfig carries lifecycle timeouts. Zero values pick defaults.
type SupervisorConfig struct {
	HandshakeTimeout time.Duration
	GraceTimeout     time.Duration
}

// Hooks let the owner react to lifecycle transitions. OnReady fires after a
// successful handshake (including after an automatic restart); OnCrash fires
// on unexpected exit, before any restart attempt.
type Hooks struct {
	OnReady func(*ProviderProcess)
	OnCrash func(*ProviderProcess)
}

// Supervisor owns the lifecycle of every provider process: spawn, handshake,
// crash detection, bounded restart, graceful termination.
type Supervisor struct {
	cfg    SupervisorConfig
	hooks  Hooks
	logger *zap.Logger

	// handshake is replaceable in tests; defaults to Client.Handshake.
	handshake func(ctx context.Context, c *Client) ([]ToolDescriptor, error)

	mu    sync.Mutex
	procs map[string]*ProviderProcess
}

// NewSupervisor builds a supervisor with the given hooks.
func NewSupervisor(cfg SupervisorConfig, hooks Hooks, logger *zap.Logger) *Supervisor {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		cfg:    cfg,
		hooks:  hooks,
		logger: logger.Named("supervisor"),
		procs:  make(map[string]*ProviderProcess),
	}
	s.handshake = func(ctx context.Context, c *Client) ([]ToolDescriptor, error) {
		return c.Handshake(ctx)
	}
	return s
}

// Start spawns one provider and runs its handshake. On failure the provider
// is left in Crashed state and the error describes which phase failed.
func (s *Supervisor) Start(ctx context.Context, desc ProviderDescriptor) (*ProviderProcess, error) {
	if desc.ID == "" || desc.Command == "" {
		return nil, fmt.Errorf("mcp: provider descriptor needs id and command")
	}
	p := &ProviderProcess{Descriptor: desc, state: StateStarting}
	s.mu.Lock()
	if _, exists := s.procs[desc.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("mcp: provider %s already started", desc.ID)
	}
	s.procs[desc.ID] = p
	s.mu.Unlock()

	if err := s.spawn(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// StartAll starts every descriptor, isolating failures per provider. It
// errors only when no provider at all could be started.
func (s *Supervisor) StartAll(ctx context.Context, descs []ProviderDescriptor) error {
	started := 0
	for _, desc := range descs {
		if _, err := s.Start(ctx, desc); err != nil {
			s.logger.Warn("provider failed to start", zap.String("provider", desc.ID), zap.Error(err))
			continue
		}
		started++
	}
	if started == 0 && len(descs) > 0 {
		return errors.New("mcp: no providers could be started")
	}
	s.logger.Info("providers started", zap.Int("ready", started), zap.Int("configured", len(descs)))
	return nil
}

func (s *Supervisor) spawn(ctx context.Context, p *ProviderProcess) error {
	desc := p.Descriptor
	procCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(procCtx, desc.Command, desc.Args...)
	cmd.Dir = desc.Dir
	cmd.Env = os.Environ()
	for k, v := range desc.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return &SpawnError{Provider: desc.ID, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return &SpawnError{Provider: desc.ID, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return &SpawnError{Provider: desc.ID, Err: err}
	}

	client := NewClient(procCtx, desc.ID, &stdioTransport{reader: stdout, writer: stdin}, s.logger)

	if err := cmd.Start(); err != nil {
		cancel()
		_ = client.Close()
		p.setState(StateCrashed)
		return &SpawnError{Provider: desc.ID, Err: err}
	}
	go s.drainStderr(desc.ID, stderr)

	p.setState(StateHandshaking)
	hctx, hcancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	tools, err := s.handshake(hctx, client)
	hcancel()
	if err != nil {
		p.setState(StateCrashed)
		_ = client.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		cancel()
		return err
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.cmd = cmd
	p.client = client
	p.cancel = cancel
	p.tools = tools
	p.done = done
	p.state = StateReady
	p.mu.Unlock()

	go s.monitor(p, cmd, client, done)
	if s.hooks.OnReady != nil {
		s.hooks.OnReady(p)
	}
	return nil
}

// monitor waits for process exit and drives crash handling. A supervised
// stop lands in Terminated; anything else is a crash with at most one
// automatic restart per provider per session.
func (s *Supervisor) monitor(p *ProviderProcess, cmd *exec.Cmd, client *Client, done chan struct{}) {
	defer close(done)
	waitErr := cmd.Wait()

	// Failing the connection first guarantees every pending call on this
	// provider completes with ErrProviderUnavailable.
	_ = client.Close()
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.mu.Lock()
	stopping := p.stopping
	p.mu.Unlock()
	if stopping {
		p.setState(StateTerminated)
		return
	}

	p.setState(StateCrashed)
	s.logger.Warn("provider exited unexpectedly",
		zap.String("provider", p.Descriptor.ID), zap.Error(waitErr))
	if s.hooks.OnCrash != nil {
		s.hooks.OnCrash(p)
	}

	p.mu.Lock()
	p.restarts++
	attempts := p.restarts
	stopRequested := p.stopping
	p.mu.Unlock()
	// A stop that arrived after the exit wins over the restart policy.
	if stopRequested {
		p.setState(StateTerminated)
		return
	}
	if attempts > 1 {
		s.logger.Error("provider crashed again; marking permanently unavailable",
			zap.String("provider", p.Descriptor.ID))
		p.setState(StateTerminated)
		return
	}

	s.logger.Info("restarting provider", zap.String("provider", p.Descriptor.ID))
	rctx, rcancel := context.WithTimeout(context.Background(), 2*s.cfg.HandshakeTimeout)
	defer rcancel()
	if err := s.spawn(rctx, p); err != nil {
		s.logger.Error("provider restart failed",
			zap.String("provider", p.Descriptor.ID), zap.Error(err))
		p.setState(StateTerminated)
	}
}

// Stop terminates one provider: SIGTERM, wait up to grace, then SIGKILL.
// This path always completes.
func (s *Supervisor) Stop(id string, grace time.Duration) error {
	p := s.Get(id)
	if p == nil {
		return fmt.Errorf("mcp: unknown provider %s", id)
	}
	if grace <= 0 {
		grace = s.cfg.GraceTimeout
	}

	for {
		p.mu.Lock()
		p.stopping = true
		cmd := p.cmd
		client := p.client
		done := p.done
		p.mu.Unlock()

		if cmd == nil || cmd.Process == nil {
			p.setState(StateTerminated)
			return nil
		}
		if client != nil {
			_ = client.Close()
		}
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(grace):
			s.logger.Warn("provider ignored SIGTERM; killing", zap.String("provider", id))
			_ = cmd.Process.Kill()
			<-done
		}

		p.mu.Lock()
		replaced := p.cmd != cmd
		p.mu.Unlock()
		if !replaced {
			p.setState(StateTerminated)
			return nil
		}
		// An automatic restart was in flight while this generation was
		// being stopped; take down the new one too.
	}
}

// Restart stops a provider and spawns a fresh process for it. Manual
// restarts do not count against the automatic restart budget.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	p := s.Get(id)
	if p == nil {
		return fmt.Errorf("mcp: unknown provider %s", id)
	}
	if err := s.Stop(id, s.cfg.GraceTimeout); err != nil {
		return err
	}
	p.mu.Lock()
	p.restarts = 0
	p.stopping = false
	p.mu.Unlock()
	return s.spawn(ctx, p)
}

// Shutdown gracefully stops every provider.
func (s *Supervisor) Shutdown(grace time.Duration) {
	for _, p := range s.Processes() {
		if err := s.Stop(p.Descriptor.ID, grace); err != nil {
			s.logger.Warn("stop failed", zap.String("provider", p.Descriptor.ID), zap.Error(err))
		}
	}
}

// Get looks up a provider by id.
func (s *Supervisor) Get(id string) *ProviderProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

// Processes snapshots the supervised set.
func (s *Supervisor) Processes() []*ProviderProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ProviderProcess, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p)
	}
	return out
}

func (s *Supervisor) drainStderr(id string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		s.logger.Debug("provider stderr", zap.String("provider", id), zap.String("line", scanner.Text()))
	}
}
