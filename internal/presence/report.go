// Package presence implements the device-presence tracking core: parsing
// sniffer reports, the bounded per-device signal history, and the derived
// analytics (signal statistics, estimated distance, activity status).
package presence

import (
	"encoding/json"
	"strings"
	"time"
)

// UnknownField is substituted for absent identifier and type fields in an
// otherwise valid report.
const UnknownField = "Unknown"

// Observation is one device's reading within a report. Immutable once
// created.
type Observation struct {
	MAC  string
	Type string
	RSSI int

	// SeenMs is the firmware-reported age of the sighting in milliseconds.
	// It is carried through for display only; recency classification uses
	// store-side timestamps (see Classify).
	SeenMs int64

	// At is the host-side time the observation was ingested.
	At time.Time
}

// Report is one decoded batch of device observations from a single input
// line.
type Report struct {
	Devices []Observation
}

// Wire shapes for the sniffer's JSON output. Fields are pointers so absence
// can be distinguished from zero values and defaulted explicitly.
type reportWire struct {
	Devices []deviceWire `json:"devices"`
}

type deviceWire struct {
	MAC    *string `json:"mac"`
	RSSI   *int    `json:"rssi"`
	Type   *string `json:"type"`
	SeenMs *int64  `json:"seen_ms"`
}

// IsReportLine reports whether a line looks like a structured report: the
// sniffer frames reports as single-line JSON objects, so anything not
// wrapped in braces is free text for the raw terminal.
func IsReportLine(line string) bool {
	return strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}")
}

// ParseLine decodes one text line into a Report. The second return value is
// false when the line is not a report (wrong envelope or malformed JSON);
// such lines are silently excluded from structured processing but remain
// available verbatim to the caller. Missing fields take documented defaults:
// mac/type -> "Unknown", rssi -> 0. ParseLine never panics and never returns
// an error: every line is either a report or not one.
func ParseLine(line string, at time.Time) (*Report, bool) {
	if !IsReportLine(line) {
		return nil, false
	}

	var wire reportWire
	if err := json.Unmarshal([]byte(line), &wire); err != nil {
		return nil, false
	}

	report := &Report{Devices: make([]Observation, 0, len(wire.Devices))}
	for _, dev := range wire.Devices {
		obs := Observation{
			MAC:  UnknownField,
			Type: UnknownField,
			At:   at,
		}
		if dev.MAC != nil {
			obs.MAC = *dev.MAC
		}
		if dev.Type != nil {
			obs.Type = *dev.Type
		}
		if dev.RSSI != nil {
			obs.RSSI = *dev.RSSI
		}
		if dev.SeenMs != nil {
			obs.SeenMs = *dev.SeenMs
		}
		report.Devices = append(report.Devices, obs)
	}
	return report, true
}
