// Package serialmux provides an abstraction over the serial link to the
// presence sniffer: it frames the byte stream into text lines and fans them
// out to any number of subscribers, while allowing commands (including
// keep-alives) to be written back to the module.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// SerialMux frames lines from a single serial port and multiplexes them to
// subscribers. It does not retry after a transport failure: Monitor returns
// the error once and reconnection is the caller's decision.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// Muxer is the interface the engine programs against, so tests and the
// fixtures replayer can stand in for a real port.
type Muxer interface {
	// Subscribe creates a new channel receiving framed lines. The returned
	// ID identifies the channel for Unsubscribe.
	Subscribe() (string, chan string)
	// Unsubscribe removes a subscriber and closes its channel.
	Unsubscribe(string)
	// SendCommand writes a command line to the module.
	SendCommand(string) error
	// KeepAlive writes the firmware keep-alive token.
	KeepAlive() error
	// Monitor reads lines from the port until the context is cancelled or
	// the transport fails, fanning each line out to subscribers.
	Monitor(context.Context) error
	// Close closes all subscriber channels and the underlying port.
	Close() error
}

// New creates a SerialMux over an already-open port.
func New[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// subscriberBuffer absorbs short consumer stalls; once it is full further
// lines are dropped rather than blocking the read loop.
const subscriberBuffer = 16

// Subscribe registers a new line channel and returns its ID.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes a command line to the module, appending the newline
// terminator if absent. Short writes are reported as ErrWriteFailed.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// KeepAlive nudges the sniffer firmware so it keeps streaming reports.
func (s *SerialMux[T]) KeepAlive() error {
	return s.SendCommand("ping")
}

// sanitizeLine strips trailing whitespace and replaces any invalid UTF-8
// sequences. Serial noise must never be fatal to the stream.
func sanitizeLine(raw string) string {
	line := strings.TrimRight(raw, " \t\r\n")
	return strings.ToValidUTF8(line, "�")
}

// Monitor reads lines from the serial port and fans them out to subscribers.
// It returns when the context is cancelled, the port reaches EOF, or the
// transport fails; the failure is returned exactly once and the read loop is
// not restarted.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop can
	// await lines and context cancellation at the same time.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case raw, ok := <-lineChan:
			if !ok {
				// Channel closed: the port hit EOF or errored.
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}

			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			line := sanitizeLine(raw)
			if line == "" {
				continue
			}

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// Never let a slow subscriber block the read loop.
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

// Close closes all subscriber channels and the underlying port.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}
