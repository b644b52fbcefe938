package serialmux

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// NewReplayMux creates a SerialMux backed by a fake port that replays the
// given fixture bytes on a fixed cadence, simulating the sniffer's periodic
// reports. Used by the -dev mode of the main binary.
func NewReplayMux(fixture []byte, interval time.Duration) *SerialMux[*replayPort] {
	r, w := io.Pipe()

	port := &replayPort{reader: r, pipe: w}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if port.isClosed() {
				return
			}
			if _, err := w.Write(fixture); err != nil {
				return
			}
		}
	}()

	return New(port)
}

// replayPort is the fake SerialPorter behind NewReplayMux. Writes (commands,
// keep-alives) are discarded, mirroring a fire-and-forget firmware console.
type replayPort struct {
	reader *io.PipeReader
	pipe   *io.PipeWriter

	mu     sync.Mutex
	closed bool
}

func (p *replayPort) Read(buf []byte) (int, error) { return p.reader.Read(buf) }

func (p *replayPort) Write(data []byte) (int, error) { return len(data), nil }

func (p *replayPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.pipe.Close()
	return p.reader.Close()
}

func (p *replayPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// TestablePort implements SerialPorter with configurable behaviour for tests:
// scripted reads, captured writes, and injectable errors.
type TestablePort struct {
	mu sync.Mutex

	readBuffer  bytes.Buffer
	writeBuffer bytes.Buffer

	readErr  error
	writeErr error
	closeErr error
	closed   bool

	readCond *sync.Cond
}

// NewTestablePort creates a TestablePort with no queued data. Reads block
// until data is added or the port is closed, like a quiet serial line.
func NewTestablePort() *TestablePort {
	p := &TestablePort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

func (p *TestablePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.readErr != nil {
			err := p.readErr
			p.readErr = nil
			return 0, err
		}
		if p.closed {
			return 0, io.EOF
		}
		if p.readBuffer.Len() > 0 {
			return p.readBuffer.Read(buf)
		}
		p.readCond.Wait()
	}
}

func (p *TestablePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		err := p.writeErr
		p.writeErr = nil
		return 0, err
	}
	return p.writeBuffer.Write(data)
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return p.closeErr
}

// AddReadData queues data to be returned by subsequent reads.
func (p *TestablePort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuffer.Write(data)
	p.readCond.Broadcast()
}

// SetReadError makes the next Read return err.
func (p *TestablePort) SetReadError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.readCond.Broadcast()
}

// SetWriteError makes the next Write return err.
func (p *TestablePort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Written returns everything written to the port so far.
func (p *TestablePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuffer.String()
}

// Closed reports whether Close has been called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
