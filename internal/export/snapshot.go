package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nora-data/presence.report/internal/presence"
)

// DeviceSnapshot is one device's serialized history in a snapshot artifact.
type DeviceSnapshot struct {
	Timestamps []string `json:"timestamps"`
	RSSI       []int    `json:"rssi"`
	Type       string   `json:"type"`
}

// Snapshot is a point-in-time durable copy of the whole store, keyed by
// device identifier. Read-only once built.
type Snapshot map[string]DeviceSnapshot

// BuildSnapshot materializes the store's current state. SnapshotAll copies
// every device under one store lock, so the artifact reflects a single
// instant and the serialization work below never holds the lock.
func BuildSnapshot(store *presence.Store) Snapshot {
	snap := make(Snapshot)
	for _, view := range store.SnapshotAll("") {
		dev := DeviceSnapshot{
			Timestamps: make([]string, 0, len(view.Samples)),
			RSSI:       make([]int, 0, len(view.Samples)),
			Type:       view.Type,
		}
		for _, s := range view.Samples {
			dev.Timestamps = append(dev.Timestamps, s.At.Format(time.RFC3339))
			dev.RSSI = append(dev.RSSI, s.RSSI)
		}
		snap[view.MAC] = dev
	}
	return snap
}

// WriteSnapshot serializes the snapshot to path as indented JSON.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot artifact back from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, nil
}
