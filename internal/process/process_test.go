package process

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

func TestStartCapturesStdoutAndExitCode(t *testing.T) {
	var mu sync.Mutex
	var out bytes.Buffer

	p, err := Start(Config{
		StreamID: "t1",
		Name:     "echo",
		Args:     []string{"hello"},
		OnStdout: func(chunk []byte) {
			mu.Lock()
			out.Write(chunk)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	if code := p.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d, want 0", code)
	}
	mu.Lock()
	defer mu.Unlock()
	if got := out.String(); got != "hello\n" {
		t.Errorf("stdout = %q, want %q", got, "hello\n")
	}
}

func TestStartCapturesStderrLines(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	p, err := Start(Config{
		StreamID: "t2",
		Name:     "ls",
		Args:     []string{"/camnode-does-not-exist"},
		OnStderrLine: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	if code := p.ExitCode(); code == 0 {
		t.Error("ExitCode() = 0 for failed ls, want nonzero")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lines) == 0 {
		t.Error("no stderr lines captured")
	}
}

func TestStartUnknownBinary(t *testing.T) {
	_, err := Start(Config{
		StreamID: "t3",
		Name:     "camnode-no-such-binary-a8f2",
	})
	if err == nil {
		t.Fatal("Start() with unknown binary succeeded")
	}
}

func TestStartEmptyName(t *testing.T) {
	if _, err := Start(Config{}); err == nil {
		t.Fatal("Start() with empty name succeeded")
	}
}

func TestStopTerminatesProcess(t *testing.T) {
	p, err := Start(Config{
		StreamID: "t4",
		Name:     "sleep",
		Args:     []string{"30"},
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	stopDone := make(chan struct{})
	go func() {
		p.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop() did not return")
	}
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after Stop")
	}
	if code := p.ExitCode(); code == 0 {
		t.Errorf("ExitCode() = 0 for terminated process, want nonzero")
	}

	p.Stop() // idempotent
}

func TestRunHonorsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	code, err := Run(ctx, Config{StreamID: "t5", Name: "sleep", Args: []string{"30"}})
	if err == nil {
		t.Error("Run() returned nil error after deadline")
	}
	if code == 0 {
		t.Errorf("Run() exit code = 0 for killed process")
	}
	if elapsed := time.Since(start); elapsed > 8*time.Second {
		t.Errorf("Run() took %v after a 200ms deadline", elapsed)
	}
}

func TestRunCompletesBeforeDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := Run(ctx, Config{StreamID: "t6", Name: "true"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if code != 0 {
		t.Errorf("Run() exit code = %d, want 0", code)
	}
}
