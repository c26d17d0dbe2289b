// Package supervisor runs the directory service as a child process group
// and guarantees it is terminated on every exit path.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

var (
	// ErrAlreadyRunning is returned by Start when the service already answers.
	ErrAlreadyRunning = errors.New("service is already running")
	// ErrNotManaged is returned by Restart when Start adopted a service this
	// supervisor did not launch and therefore cannot stop.
	ErrNotManaged = errors.New("service was not started by this supervisor")
)

// Config controls how the service is started and stopped.
type Config struct {
	Command     string
	Args        []string
	SettleDelay time.Duration
	StopTimeout time.Duration
	// ReuseRunning accepts a service that already answers instead of failing.
	ReuseRunning bool
	// Probe reports whether the service answers requests. Optional.
	Probe func(ctx context.Context) bool
}

// Supervisor owns at most one running service process group.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	output  *zapio.Writer
	reused  bool
}

// New builds a Supervisor.
func New(cfg Config, logger *zap.Logger) (*Supervisor, error) {
	if cfg.Command == "" {
		return nil, errors.New("supervisor: command is required")
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, logger: logger}, nil
}

// Start launches the service in its own process group and waits for it to settle.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Probe != nil && s.cfg.Probe(ctx) {
		if !s.cfg.ReuseRunning {
			return ErrAlreadyRunning
		}
		s.logger.Info("service already answers, reusing it")
		s.mu.Lock()
		s.reused = true
		s.mu.Unlock()
		return nil
	}
	return s.start(ctx)
}

func (s *Supervisor) start(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return errors.New("supervisor: process already started")
	}
	out := &zapio.Writer{Log: s.logger.Named("service"), Level: zapcore.DebugLevel}
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start %s: %w", s.cfg.Command, err)
	}
	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.output = out
	s.waitErr = nil
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info("service started",
		zap.String("command", s.cfg.Command),
		zap.Strings("args", s.cfg.Args),
		zap.Int("pid", cmd.Process.Pid),
	)

	timer := time.NewTimer(s.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait for service to settle: %w", ctx.Err())
	case <-done:
		return fmt.Errorf("service exited during startup: %w", s.exitErr())
	case <-timer.C:
		return nil
	}
}

// Stop terminates the process group: SIGTERM first, SIGKILL after StopTimeout.
// It is safe to call when nothing is running.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd, done, out := s.cmd, s.done, s.output
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}
	defer func() {
		s.mu.Lock()
		s.cmd, s.done, s.output = nil, nil, nil
		s.mu.Unlock()
		_ = out.Close()
	}()

	pid := cmd.Process.Pid
	if err := terminateGroup(pid); err != nil {
		s.logger.Warn("terminate service", zap.Int("pid", pid), zap.Error(err))
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("service stopped", zap.Int("pid", pid))
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn("service did not stop in time, killing", zap.Int("pid", pid))
	if err := killGroup(pid); err != nil {
		return fmt.Errorf("kill service group %d: %w", pid, err)
	}
	<-done
	return nil
}

// Restart stops the service and starts it again. An adopted service is
// never restarted, since a second instance would compete for its port.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	reused := s.reused
	s.mu.Unlock()
	if reused {
		return fmt.Errorf("restart %s: %w", s.cfg.Command, ErrNotManaged)
	}
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.start(ctx)
}

// Running reports whether the managed process is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()
	if cmd == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
	}
	p, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	return err == nil && running
}

// Exited reports whether a service launched by this supervisor has died
// without being stopped.
func (s *Supervisor) Exited() bool {
	s.mu.Lock()
	started := s.cmd != nil
	s.mu.Unlock()
	return started && !s.Running()
}

func (s *Supervisor) exitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waitErr == nil {
		return errors.New("exit status 0")
	}
	return s.waitErr
}
