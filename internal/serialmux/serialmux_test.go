package serialmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func collectLines(t *testing.T, ch chan string, n int, timeout time.Duration) []string {
	t.Helper()
	var lines []string
	deadline := time.After(timeout)
	for len(lines) < n {
		select {
		case line, ok := <-ch:
			if !ok {
				return lines
			}
			lines = append(lines, line)
		case <-deadline:
			t.Fatalf("timed out after %v with %d/%d lines", timeout, len(lines), n)
		}
	}
	return lines
}

func TestSubscribeUnsubscribe(t *testing.T) {
	mux := New(NewTestablePort())

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()

	if id1 == "" || id2 == "" || id1 == id2 {
		t.Errorf("subscriber IDs must be unique and non-empty, got %q and %q", id1, id2)
	}
	if ch1 == nil || ch2 == nil {
		t.Fatal("Subscribe returned a nil channel")
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("channel still open after Unsubscribe")
	}
	mux.Unsubscribe(id1) // second unsubscribe is a no-op
	_ = ch2
}

func TestMonitorDeliversSanitizedLines(t *testing.T) {
	port := NewTestablePort()
	mux := New(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	_, ch := mux.Subscribe()
	go func() {
		port.AddReadData([]byte("hello world  \r\n"))
		port.AddReadData([]byte("\r\n")) // blank lines are dropped
		port.AddReadData([]byte("{\"devices\":[]}\n"))
	}()

	lines := collectLines(t, ch, 2, 2*time.Second)
	if lines[0] != "hello world" {
		t.Errorf("first line = %q, want trailing whitespace stripped", lines[0])
	}
	if lines[1] != `{"devices":[]}` {
		t.Errorf("second line = %q", lines[1])
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor returned %v, want context.Canceled", err)
	}
}

func TestMonitorToleratesInvalidUTF8(t *testing.T) {
	port := NewTestablePort()
	mux := New(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	_, ch := mux.Subscribe()
	go port.AddReadData([]byte("bad\xff\xfebytes\n"))

	lines := collectLines(t, ch, 1, 2*time.Second)
	if !strings.Contains(lines[0], "bad") || !strings.Contains(lines[0], "bytes") {
		t.Errorf("line %q lost valid content around invalid bytes", lines[0])
	}
}

func TestMonitorSurfacesTransportFailureOnce(t *testing.T) {
	port := NewTestablePort()
	mux := New(port)

	transportErr := errors.New("device unplugged")
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	port.SetReadError(transportErr)

	select {
	case err := <-done:
		if !errors.Is(err, transportErr) {
			t.Errorf("Monitor returned %v, want %v", err, transportErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not terminate on transport failure")
	}
}

func TestMonitorReturnsNilOnEOF(t *testing.T) {
	port := NewTestablePort()
	mux := New(port)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	port.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor returned %v on clean EOF, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not terminate on EOF")
	}
}

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewTestablePort()
	mux := New(port)

	if err := mux.SendCommand("scan start"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if err := mux.SendCommand("status\n"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	if got := port.Written(); got != "scan start\nstatus\n" {
		t.Errorf("written = %q, want both commands newline-terminated once", got)
	}
}

func TestSendCommandWriteError(t *testing.T) {
	port := NewTestablePort()
	mux := New(port)

	writeErr := errors.New("write refused")
	port.SetWriteError(writeErr)
	if err := mux.SendCommand("ping"); !errors.Is(err, writeErr) {
		t.Errorf("SendCommand() error = %v, want %v", err, writeErr)
	}
}

func TestKeepAlive(t *testing.T) {
	port := NewTestablePort()
	mux := New(port)

	if err := mux.KeepAlive(); err != nil {
		t.Fatalf("KeepAlive() error = %v", err)
	}
	if got := port.Written(); got != "ping\n" {
		t.Errorf("written = %q, want ping token", got)
	}
}

func TestCloseClosesSubscribersAndPort(t *testing.T) {
	port := NewTestablePort()
	mux := New(port)

	_, ch := mux.Subscribe()
	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open after Close")
	}
	if !port.Closed() {
		t.Error("underlying port not closed")
	}
}

func TestPortOptionsNormalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if opts.BaudRate != 115200 || opts.DataBits != 8 || opts.StopBits != 1 || opts.Parity != "N" {
		t.Errorf("defaults = %+v, want 115200 8N1", opts)
	}

	if _, err := (PortOptions{DataBits: 3}).Normalize(); err == nil {
		t.Error("Normalize() accepted 3 data bits")
	}
	if _, err := (PortOptions{StopBits: 4}).Normalize(); err == nil {
		t.Error("Normalize() accepted 4 stop bits")
	}
	if _, err := (PortOptions{Parity: "X"}).Normalize(); err == nil {
		t.Error("Normalize() accepted parity X")
	}

	mode, err := PortOptions{BaudRate: 921600, Parity: "even"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 921600 {
		t.Errorf("mode.BaudRate = %d, want 921600", mode.BaudRate)
	}
}

func TestReplayMuxStreamsFixture(t *testing.T) {
	mux := NewReplayMux([]byte("fixture line\n"), 10*time.Millisecond)
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	_, ch := mux.Subscribe()
	lines := collectLines(t, ch, 2, 2*time.Second)
	for _, line := range lines {
		if line != "fixture line" {
			t.Errorf("replayed line = %q, want %q", line, "fixture line")
		}
	}
}
