// Package export serializes tracked state to durable artifacts: a continuous
// CSV observation log, on-demand JSON snapshots, and HTML signal charts.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nora-data/presence.report/internal/presence"
)

// csvHeader is the fixed column set of the observation log.
var csvHeader = []string{"Timestamp", "MAC", "Type", "RSSI"}

// CSVLogger appends one row per ingested observation to an append-only log
// file. The file is opened once per logging session and closed on Stop; a
// failed open leaves logging disabled and is reported to the operator by the
// caller.
type CSVLogger struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	path    string
	session string
	rows    int
}

// StartCSVLogger opens (creating or appending to) the log file at path and
// writes the header when the file is new.
func StartCSVLogger(path string) (*CSVLogger, error) {
	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open observation log: %w", err)
	}

	l := &CSVLogger{
		file:    f,
		writer:  csv.NewWriter(f),
		path:    path,
		session: uuid.NewString(),
	}

	if fresh {
		if err := l.writer.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write log header: %w", err)
		}
		l.writer.Flush()
		if err := l.writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write log header: %w", err)
		}
	}

	return l, nil
}

// Record appends one observation row and flushes it, so rows survive an
// abrupt process exit.
func (l *CSVLogger) Record(obs presence.Observation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("observation log already stopped")
	}

	row := []string{
		obs.At.Format(time.RFC3339),
		obs.MAC,
		obs.Type,
		strconv.Itoa(obs.RSSI),
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("append observation row: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("append observation row: %w", err)
	}
	l.rows++
	return nil
}

// Stop flushes and closes the log file. Safe to call once.
func (l *CSVLogger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	l.writer.Flush()
	flushErr := l.writer.Error()
	closeErr := l.file.Close()
	l.file = nil

	if flushErr != nil {
		return fmt.Errorf("flush observation log: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close observation log: %w", closeErr)
	}
	return nil
}

// Path returns the log file path.
func (l *CSVLogger) Path() string { return l.path }

// Session returns the unique ID of this logging session.
func (l *CSVLogger) Session() string { return l.session }

// Rows returns the number of rows recorded this session.
func (l *CSVLogger) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}
