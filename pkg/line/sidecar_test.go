package line

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinyland-inc/linecord/pkg/logger"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	out := &syncBuffer{}
	logger.SetOutput(out)
	t.Cleanup(func() { logger.SetOutput(&bytes.Buffer{}) })
	return out
}

func TestSidecar_ForwardsOutputAndStops(t *testing.T) {
	requireShell(t)
	logs := captureLogs(t)

	s := NewSidecar([]string{"sh", "-c", "echo gateway up; echo oops >&2; exec sleep 30"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("not running after Start")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !(strings.Contains(logs.String(), "gateway up") && strings.Contains(logs.String(), "oops")) {
		if time.Now().After(deadline) {
			t.Fatalf("sidecar output not logged: %s", logs.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if s.IsRunning() {
		t.Error("still running after Stop")
	}
}

func TestSidecar_ReportsExit(t *testing.T) {
	requireShell(t)
	captureLogs(t)

	s := NewSidecar([]string{"sh", "-c", "exit 3"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit")
	}
	var exitErr *exec.ExitError
	if err := s.Err(); err == nil || !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("Err: got %v, want exit status 3", err)
	}
}

func TestSidecar_EmptyCommand(t *testing.T) {
	if err := NewSidecar(nil).Start(context.Background()); err == nil {
		t.Error("Start with empty command should fail")
	}
	NewSidecar(nil).Stop()
}
