// Package api exposes the tracked state over a small read-only HTTP JSON
// surface, plus an SSE tail of the raw serial stream and a command
// passthrough to the module.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nora-data/presence.report/internal/archive"
	"github.com/nora-data/presence.report/internal/engine"
	"github.com/nora-data/presence.report/internal/monitoring"
)

type Server struct {
	eng  *engine.Engine
	arch *archive.Archive // nil disables the archive endpoints
}

func NewServer(eng *engine.Engine, arch *archive.Archive) *Server {
	return &Server{eng: eng, arch: arch}
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("presence report server"))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /devices", s.listDevices)
	mux.HandleFunc("GET /devices/{mac}", s.deviceDetail)
	mux.HandleFunc("GET /tail", s.tailHandler)
	mux.HandleFunc("POST /command", s.sendCommandHandler)
	mux.HandleFunc("GET /archive/recent", s.archiveRecent)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

// deviceJSON is the list-entry wire shape for one tracked device.
type deviceJSON struct {
	MAC      string    `json:"mac"`
	Type     string    `json:"type"`
	LastSeen time.Time `json:"last_seen"`
	RSSI     int       `json:"rssi"`
	Average  float64   `json:"average"`
	Peak     int       `json:"peak"`
	Distance float64   `json:"distance_m"`
	Quality  string    `json:"quality"`
	Tracking bool      `json:"tracking"`
	Status   string    `json:"status"`
	Samples  int       `json:"samples"`
}

// deviceDetailJSON adds the firmware-reported sighting age and the full
// sample history.
type deviceDetailJSON struct {
	deviceJSON
	SeenMs     int64    `json:"seen_ms"`
	Timestamps []string `json:"timestamps"`
	History    []int    `json:"history"`
}

func toDeviceJSON(info engine.DeviceInfo) deviceJSON {
	return deviceJSON{
		MAC:      info.MAC,
		Type:     info.Type,
		LastSeen: info.LastSeen,
		RSSI:     info.Stats.Current,
		Average:  info.Stats.Average,
		Peak:     info.Stats.Peak,
		Distance: info.Stats.Distance,
		Quality:  info.Stats.Quality,
		Tracking: info.Status.Tracking,
		Status:   info.Status.Label(),
		Samples:  len(info.Samples),
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to encode response: %v", err)
	}
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.eng.Devices()
	out := make([]deviceJSON, 0, len(devices))
	for _, info := range devices {
		out = append(out, toDeviceJSON(info))
	}
	writeJSON(w, out)
}

func (s *Server) deviceDetail(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	info, ok := s.eng.Device(mac)
	if !ok {
		http.Error(w, fmt.Sprintf("device %s has not been seen", mac), http.StatusNotFound)
		return
	}

	detail := deviceDetailJSON{
		deviceJSON: toDeviceJSON(info),
		SeenMs:     info.SeenMs,
		Timestamps: make([]string, 0, len(info.Samples)),
		History:    make([]int, 0, len(info.Samples)),
	}
	for _, sample := range info.Samples {
		detail.Timestamps = append(detail.Timestamps, sample.At.Format(time.RFC3339))
		detail.History = append(detail.History, sample.RSSI)
	}
	writeJSON(w, detail)
}

// tailHandler streams every framed serial line to the client as
// server-sent events until the client goes away.
func (s *Server) tailHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, feed := s.eng.Listen()
	defer s.eng.Unlisten(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-feed:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	command := r.FormValue("command")
	if command == "" {
		http.Error(w, "command is required", http.StatusBadRequest)
		return
	}

	if err := s.eng.SendCommand(command); err != nil {
		http.Error(w, fmt.Sprintf("failed to send command: %v", err), http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "command sent")
}

func (s *Server) archiveRecent(w http.ResponseWriter, r *http.Request) {
	if s.arch == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}

	observations, err := s.arch.RecentObservations(100)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query archive: %v", err), http.StatusInternalServerError)
		return
	}

	type row struct {
		MAC  string    `json:"mac"`
		Type string    `json:"type"`
		RSSI int       `json:"rssi"`
		At   time.Time `json:"at"`
	}
	out := make([]row, 0, len(observations))
	for _, obs := range observations {
		out = append(out, row{MAC: obs.MAC, Type: obs.Type, RSSI: obs.RSSI, At: obs.At})
	}
	writeJSON(w, out)
}
