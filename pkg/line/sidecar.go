package line

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyland-inc/linecord/pkg/logger"
)

// Sidecar runs the LINE gateway as a child process and forwards its output
// to the log. It is optional: the gateway may also be run separately.
type Sidecar struct {
	argv      []string
	waitDelay time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	running atomic.Bool
}

func NewSidecar(argv []string) *Sidecar {
	return &Sidecar{
		argv:      argv,
		waitDelay: 5 * time.Second,
	}
}

// Start spawns the gateway. The process gets an interrupt when ctx is done
// or Stop is called, and is killed if it has not exited after waitDelay.
func (s *Sidecar) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.argv) == 0 {
		return errors.New("line gateway command is empty")
	}
	if s.running.Load() {
		return fmt.Errorf("line gateway already running")
	}

	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, s.argv[0], s.argv[1:]...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = s.waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start line gateway: %w", err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	s.running.Store(true)

	var pipes sync.WaitGroup
	pipes.Add(2)
	go s.forward(stdout, "stdout", &pipes)
	go s.forward(stderr, "stderr", &pipes)

	go func(done chan struct{}) {
		pipes.Wait()
		err := cmd.Wait()

		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.running.Store(false)
		close(done)

		fields := map[string]any{"pid": cmd.Process.Pid}
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.InfoCF("line-gateway", "Gateway process exited", fields)
	}(s.done)

	logger.InfoCF("line-gateway", "Gateway process started", map[string]any{
		"command": s.argv[0],
		"pid":     cmd.Process.Pid,
	})
	return nil
}

func (s *Sidecar) forward(r io.Reader, stream string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.InfoCF("line-gateway", scanner.Text(), map[string]any{"stream": stream})
	}
}

// Done is closed when the process exits. It is nil before Start.
func (s *Sidecar) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err is the process exit error once Done is closed.
func (s *Sidecar) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Sidecar) IsRunning() bool { return s.running.Load() }

// Stop interrupts the process and waits for it to exit.
func (s *Sidecar) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
