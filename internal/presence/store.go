package presence

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// deviceRecord is the store-internal accumulated state for one device. It is
// never handed out directly; readers get DeviceView copies.
type deviceRecord struct {
	mac      string
	devType  string
	samples  *sampleRing
	lastSeen time.Time
	seenMs   int64
}

// DeviceView is a tear-free copy of one device's tracked state.
type DeviceView struct {
	MAC      string
	Type     string
	LastSeen time.Time
	SeenMs   int64
	Samples  []Sample
}

// Store maps device identifiers to their bounded signal histories. One
// logical writer (the ingest loop) mutates it; any number of readers (the
// console, exports, HTTP handlers) read concurrently. A single lock around
// each ingest batch and each composite read keeps every reader's view
// consistent per batch.
type Store struct {
	mu         sync.RWMutex
	devices    map[string]*deviceRecord
	historyCap int
}

// NewStore creates an empty store whose per-device history is bounded to
// historyCap samples (oldest evicted first).
func NewStore(historyCap int) *Store {
	if historyCap <= 0 {
		historyCap = 500
	}
	return &Store{
		devices:    make(map[string]*deviceRecord),
		historyCap: historyCap,
	}
}

// HistoryCap returns the per-device sample bound.
func (s *Store) HistoryCap() int { return s.historyCap }

// Ingest applies one report as a single atomic batch: for each observation
// it creates the device record if absent, appends a sample at time at, and
// overwrites the stored device type with the latest reported one. No reader
// observes a partially applied report.
func (s *Store) Ingest(report *Report, at time.Time) {
	if report == nil || len(report.Devices) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obs := range report.Devices {
		rec, ok := s.devices[obs.MAC]
		if !ok {
			rec = &deviceRecord{
				mac:     obs.MAC,
				samples: newSampleRing(s.historyCap),
			}
			s.devices[obs.MAC] = rec
		}
		rec.samples.append(Sample{At: at, RSSI: obs.RSSI})
		rec.devType = obs.Type
		rec.lastSeen = at
		rec.seenMs = obs.SeenMs
	}
}

// Get returns a copy of the tracked state for mac, or ok=false if the device
// has never been observed (or the store was purged since).
func (s *Store) Get(mac string) (DeviceView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.devices[mac]
	if !ok {
		return DeviceView{}, false
	}
	return DeviceView{
		MAC:      rec.mac,
		Type:     rec.devType,
		LastSeen: rec.lastSeen,
		SeenMs:   rec.seenMs,
		Samples:  rec.samples.samples(),
	}, true
}

// ListOrdered returns the tracked identifiers sorted by last-seen descending
// (most recently active first), ties broken by identifier ascending. A
// non-empty filter hides devices whose identifier and type both lack the
// (case-insensitive) substring; hidden devices stay in the store.
func (s *Store) ListOrdered(filter string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	macs := make([]string, 0, len(s.devices))
	for mac, rec := range s.devices {
		if !Matches(rec.mac, rec.devType, filter) {
			continue
		}
		macs = append(macs, mac)
	}

	sort.Slice(macs, func(i, j int) bool {
		a, b := s.devices[macs[i]], s.devices[macs[j]]
		if !a.lastSeen.Equal(b.lastSeen) {
			return a.lastSeen.After(b.lastSeen)
		}
		return a.mac < b.mac
	})
	return macs
}

// SnapshotAll returns tear-free copies of every device passing the filter,
// most recently seen first (ties by identifier ascending). The whole copy is
// taken under a single lock, so the result reflects the store at one
// instant: no ingest batch can commit between two devices of the result.
func (s *Store) SnapshotAll(filter string) []DeviceView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*deviceRecord, 0, len(s.devices))
	for _, rec := range s.devices {
		if !Matches(rec.mac, rec.devType, filter) {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].lastSeen.Equal(recs[j].lastSeen) {
			return recs[i].lastSeen.After(recs[j].lastSeen)
		}
		return recs[i].mac < recs[j].mac
	})

	views := make([]DeviceView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, DeviceView{
			MAC:      rec.mac,
			Type:     rec.devType,
			LastSeen: rec.lastSeen,
			SeenMs:   rec.seenMs,
			Samples:  rec.samples.samples(),
		})
	}
	return views
}

// Len returns the number of tracked devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Purge atomically clears the entire mapping. Subsequent ingests recreate
// records from scratch with fresh history.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = make(map[string]*deviceRecord)
}

// Matches implements the display filter: an empty query matches everything,
// otherwise the lowercased query must be a substring of the lowercased
// identifier or type.
func Matches(mac, devType, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(mac), q) ||
		strings.Contains(strings.ToLower(devType), q)
}
