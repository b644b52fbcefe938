// Package engine ties the serial stream, the tracking store, and the durable
// outputs together: it owns the connect/disconnect lifecycle, runs the
// background ingest loop, and carries the session state (display filter, CSV
// logging, raw-line tail) the console and HTTP API act on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nora-data/presence.report/internal/archive"
	"github.com/nora-data/presence.report/internal/config"
	"github.com/nora-data/presence.report/internal/export"
	"github.com/nora-data/presence.report/internal/monitoring"
	"github.com/nora-data/presence.report/internal/presence"
	"github.com/nora-data/presence.report/internal/serialmux"
	"github.com/nora-data/presence.report/internal/timeutil"
)

var (
	ErrAlreadyConnected = errors.New("already connected to a serial port")
	ErrNotConnected     = errors.New("not connected to a serial port")
	ErrLogActive        = errors.New("observation logging already active")
	ErrLogInactive      = errors.New("observation logging not active")
)

// keepAliveInterval is how often the engine nudges the sniffer firmware so
// it keeps streaming reports.
const keepAliveInterval = 5 * time.Second

// PortOpener opens a line mux over the serial device at path. Swapped out in
// tests and in fixture-replay mode.
type PortOpener func(path string, baud int) (serialmux.Muxer, error)

func realOpener(path string, baud int) (serialmux.Muxer, error) {
	return serialmux.OpenReal(path, serialmux.PortOptions{BaudRate: baud})
}

// session is the state of one serial connection. A new session is created on
// every connect; transport failure or disconnect tears the whole session
// down, and the port is closed on every exit path.
type session struct {
	mux    serialmux.Muxer
	cancel context.CancelFunc
	done   chan struct{}
	path   string
}

// Engine is the coordination hub between the serial stream and every
// consumer of tracked state.
type Engine struct {
	cfg   *config.Tuning
	clock timeutil.Clock
	store *presence.Store
	arch  *archive.Archive // nil disables archiving
	tail  *tailRing

	openPort PortOpener

	mu      sync.Mutex
	session *session
	logger  *export.CSVLogger
	filter  string

	listenerMu sync.Mutex
	listeners  map[string]chan string
}

// New creates an engine around the given tuning, clock, and optional
// archive. The returned engine is disconnected; call Connect to start
// ingesting.
func New(cfg *config.Tuning, clock timeutil.Clock, arch *archive.Archive) *Engine {
	if cfg == nil {
		cfg = &config.Tuning{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{
		cfg:       cfg,
		clock:     clock,
		store:     presence.NewStore(cfg.GetHistoryCap()),
		arch:      arch,
		tail:      newTailRing(),
		openPort:  realOpener,
		listeners: make(map[string]chan string),
	}
}

// SetPortOpener replaces the serial factory, e.g. with a fixture replayer.
func (e *Engine) SetPortOpener(open PortOpener) { e.openPort = open }

// Store exposes the tracking store for read-only consumers.
func (e *Engine) Store() *presence.Store { return e.store }

// PathLoss returns the configured distance-estimation parameters.
func (e *Engine) PathLoss() presence.PathLoss {
	return presence.PathLoss{
		Reference: e.cfg.GetPathLossReference(),
		Exponent:  e.cfg.GetPathLossExponent(),
		Window:    e.cfg.GetSmoothingWindow(),
	}
}

// ActivityThreshold returns the configured recency cutoff.
func (e *Engine) ActivityThreshold() time.Duration {
	return time.Duration(e.cfg.GetActivitySeconds() * float64(time.Second))
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Connect opens the serial device at path and starts the background ingest
// session. Fails when a session is already running.
func (e *Engine) Connect(path string) error {
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}

	mux, err := e.openPort(path, e.cfg.GetBaudRate())
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("open serial port %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		mux:    mux,
		cancel: cancel,
		done:   make(chan struct{}),
		path:   path,
	}
	e.session = sess
	e.mu.Unlock()

	_, lines := mux.Subscribe()

	go e.ingestLoop(lines)
	go e.keepAliveLoop(ctx, mux)
	go func() {
		err := mux.Monitor(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("serial session on %s ended: %v", path, err)
		}
		// Closing the mux closes the subscriber channel, which ends the
		// ingest loop.
		mux.Close()
		e.clearSession(sess)
		close(sess.done)
	}()

	monitoring.Logf("connected to %s at %d baud", path, e.cfg.GetBaudRate())
	return nil
}

// Disconnect ends the current ingest session and waits for the port to be
// released. Tracked state is kept.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	sess.cancel()
	<-sess.done
	monitoring.Logf("disconnected from %s", sess.path)
	return nil
}

func (e *Engine) clearSession(sess *session) {
	e.mu.Lock()
	if e.session == sess {
		e.session = nil
	}
	e.mu.Unlock()
}

// Connected reports whether an ingest session is running, and on which port.
func (e *Engine) Connected() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return "", false
	}
	return e.session.path, true
}

// SendCommand forwards a raw command line to the module.
func (e *Engine) SendCommand(command string) error {
	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.mux.SendCommand(command)
}

func (e *Engine) keepAliveLoop(ctx context.Context, mux serialmux.Muxer) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := mux.KeepAlive(); err != nil {
				monitoring.Debugf("keep-alive failed: %v", err)
			}
		}
	}
}

// ingestLoop consumes framed lines until the subscriber channel closes.
// Report lines feed the store, the CSV log, and the archive; everything else
// goes to the raw tail. All lines are fanned out to live listeners.
func (e *Engine) ingestLoop(lines chan string) {
	for line := range lines {
		e.publish(line)

		at := e.clock.Now()
		report, ok := presence.ParseLine(line, at)
		if !ok {
			e.tail.append(line)
			continue
		}

		e.store.Ingest(report, at)
		e.recordObservations(report.Devices)
	}
}

func (e *Engine) recordObservations(observations []presence.Observation) {
	e.mu.Lock()
	logger := e.logger
	e.mu.Unlock()

	if logger != nil {
		for _, obs := range observations {
			if err := logger.Record(obs); err != nil {
				monitoring.Logf("observation log failed, stopping it: %v", err)
				e.StopLog()
				break
			}
		}
	}

	if e.arch != nil {
		if err := e.arch.RecordBatch(observations); err != nil {
			monitoring.Logf("archive write failed: %v", err)
		}
	}
}

// Listen registers a live feed of every framed line (reports included), for
// the SSE tail. The returned ID identifies the channel for Unlisten.
func (e *Engine) Listen() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, 16)
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listeners[id] = ch
	return id, ch
}

// Unlisten removes a live-feed listener and closes its channel.
func (e *Engine) Unlisten(id string) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	if ch, ok := e.listeners[id]; ok {
		close(ch)
		delete(e.listeners, id)
	}
}

func (e *Engine) publish(line string) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	for _, ch := range e.listeners {
		select {
		case ch <- line:
		default:
			// Never let a slow listener block ingest.
		}
	}
}

// Tail returns the retained raw (non-report) lines, oldest first.
func (e *Engine) Tail() []string { return e.tail.lines() }

// ClearTail discards the retained raw lines.
func (e *Engine) ClearTail() { e.tail.clear() }

// SetFilter sets the display filter; an empty string clears it. The filter
// hides devices from listings without touching stored state.
func (e *Engine) SetFilter(query string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filter = query
}

// Filter returns the active display filter ("" when unset).
func (e *Engine) Filter() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter
}

// StartLog begins a CSV logging session to path. A failed open leaves
// logging off and returns the error; ingestion continues either way.
func (e *Engine) StartLog(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.logger != nil {
		return ErrLogActive
	}
	logger, err := export.StartCSVLogger(path)
	if err != nil {
		return err
	}
	e.logger = logger
	monitoring.Logf("observation log started: %s", path)
	return nil
}

// StopLog ends the CSV logging session.
func (e *Engine) StopLog() error {
	e.mu.Lock()
	logger := e.logger
	e.logger = nil
	e.mu.Unlock()
	if logger == nil {
		return ErrLogInactive
	}
	return logger.Stop()
}

// LogStatus reports whether logging is active, and to which file.
func (e *Engine) LogStatus() (path string, rows int, active bool) {
	e.mu.Lock()
	logger := e.logger
	e.mu.Unlock()
	if logger == nil {
		return "", 0, false
	}
	return logger.Path(), logger.Rows(), true
}

// DeviceInfo is the composite read model for one device: tracked state plus
// derived analytics.
type DeviceInfo struct {
	presence.DeviceView
	Stats  presence.Stats
	Status presence.ActivityStatus
}

// Device returns the composite view for one device.
func (e *Engine) Device(mac string) (DeviceInfo, bool) {
	view, ok := e.store.Get(mac)
	if !ok {
		return DeviceInfo{}, false
	}
	stats, _ := presence.ComputeStats(view.Samples, e.PathLoss())
	return DeviceInfo{
		DeviceView: view,
		Stats:      stats,
		Status:     presence.Classify(view.LastSeen, e.clock.Now(), e.ActivityThreshold()),
	}, true
}

// Devices returns composite views for every device passing the active
// filter, most recently seen first. The underlying copy is taken atomically,
// so no ingest batch is half-reflected across the result.
func (e *Engine) Devices() []DeviceInfo {
	views := e.store.SnapshotAll(e.Filter())
	now := e.clock.Now()
	threshold := e.ActivityThreshold()
	pl := e.PathLoss()

	out := make([]DeviceInfo, 0, len(views))
	for _, view := range views {
		stats, _ := presence.ComputeStats(view.Samples, pl)
		out = append(out, DeviceInfo{
			DeviceView: view,
			Stats:      stats,
			Status:     presence.Classify(view.LastSeen, now, threshold),
		})
	}
	return out
}

// Purge drops all tracked devices. The archive and any artifacts already
// written are untouched.
func (e *Engine) Purge() { e.store.Purge() }

// ExportSnapshot writes a point-in-time JSON copy of the store to path.
func (e *Engine) ExportSnapshot(path string) error {
	return export.WriteSnapshot(path, export.BuildSnapshot(e.store))
}

// WriteChart renders the signal history chart for mac into an HTML file.
// ok=false means the device is unknown and nothing was written.
func (e *Engine) WriteChart(mac, path string) (bool, error) {
	view, ok := e.store.Get(mac)
	if !ok {
		return false, nil
	}
	return true, export.WriteChart(path, view)
}

// Close shuts the engine down: the ingest session is torn down if running
// and the observation log is flushed and closed.
func (e *Engine) Close() error {
	if err := e.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	if err := e.StopLog(); err != nil && !errors.Is(err, ErrLogInactive) {
		return err
	}
	return nil
}
