package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nora-data/presence.report/internal/archive"
	"github.com/nora-data/presence.report/internal/engine"
	"github.com/nora-data/presence.report/internal/presence"
	"github.com/nora-data/presence.report/internal/serialmux"
	"github.com/nora-data/presence.report/internal/timeutil"
)

func testServer(t *testing.T) (*Server, *engine.Engine, *serialmux.TestablePort) {
	t.Helper()
	port := serialmux.NewTestablePort()
	eng := engine.New(nil, timeutil.RealClock{}, nil)
	eng.SetPortOpener(func(string, int) (serialmux.Muxer, error) {
		return serialmux.New(port), nil
	})
	t.Cleanup(func() { eng.Close() })
	return NewServer(eng, nil), eng, port
}

func seed(eng *engine.Engine, mac, devType string, rssi int, at time.Time) {
	eng.Store().Ingest(&presence.Report{Devices: []presence.Observation{
		{MAC: mac, Type: devType, RSSI: rssi, SeenMs: 120},
	}}, at)
}

func TestListDevices(t *testing.T) {
	srv, eng, _ := testServer(t)
	seed(eng, "AA:BB", "phone", -48, time.Now())
	seed(eng, "11:22", "tablet", -80, time.Now())

	req := httptest.NewRequest("GET", "/devices", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var devices []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}

	byMAC := map[string]map[string]interface{}{}
	for _, d := range devices {
		byMAC[d["mac"].(string)] = d
	}
	if q := byMAC["AA:BB"]["quality"]; q != "EXCELLENT" {
		t.Errorf("AA:BB quality = %v, want EXCELLENT", q)
	}
	if q := byMAC["11:22"]["quality"]; q != "WEAK" {
		t.Errorf("11:22 quality = %v, want WEAK", q)
	}
}

func TestListDevicesHonorsFilter(t *testing.T) {
	srv, eng, _ := testServer(t)
	seed(eng, "AA:BB", "phone", -48, time.Now())
	seed(eng, "11:22", "tablet", -80, time.Now())
	eng.SetFilter("phone")

	req := httptest.NewRequest("GET", "/devices", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)

	var devices []map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &devices)
	if len(devices) != 1 || devices[0]["mac"] != "AA:BB" {
		t.Errorf("filtered list = %v, want only AA:BB", devices)
	}
}

func TestDeviceDetail(t *testing.T) {
	srv, eng, _ := testServer(t)
	at := time.Now()
	seed(eng, "AA:BB", "phone", -48, at)
	seed(eng, "AA:BB", "phone", -52, at.Add(time.Second))

	req := httptest.NewRequest("GET", "/devices/AA:BB", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var detail struct {
		MAC     string `json:"mac"`
		SeenMs  int64  `json:"seen_ms"`
		History []int  `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if detail.MAC != "AA:BB" || detail.SeenMs != 120 {
		t.Errorf("detail = %+v, want AA:BB with seen_ms=120", detail)
	}
	if len(detail.History) != 2 || detail.History[1] != -52 {
		t.Errorf("history = %v, want [-48 -52]", detail.History)
	}
}

func TestDeviceDetailNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest("GET", "/devices/00:00", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSendCommand(t *testing.T) {
	srv, eng, port := testServer(t)
	if err := eng.Connect("/dev/test0"); err != nil {
		t.Fatal(err)
	}

	form := url.Values{"command": {"scan"}}
	req := httptest.NewRequest("POST", "/command", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := port.Written(); got != "scan\n" {
		t.Errorf("port received %q, want scan with newline", got)
	}
}

func TestSendCommandRequiresBody(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest("POST", "/command", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSendCommandDisconnected(t *testing.T) {
	srv, _, _ := testServer(t)

	form := url.Values{"command": {"scan"}}
	req := httptest.NewRequest("POST", "/command", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 while disconnected", rec.Code)
	}
}

func TestCommandRejectsGet(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest("GET", "/command", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestArchiveRecentDisabled(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest("GET", "/archive/recent", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no archive is attached", rec.Code)
	}
}

func TestArchiveRecent(t *testing.T) {
	arch, err := archive.Open(filepath.Join(t.TempDir(), "presence.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { arch.Close() })

	eng := engine.New(nil, timeutil.RealClock{}, arch)
	t.Cleanup(func() { eng.Close() })
	srv := NewServer(eng, arch)

	obs := presence.Observation{MAC: "AA:BB", Type: "phone", RSSI: -60, At: time.Now().UTC()}
	if err := arch.RecordObservation(obs); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/archive/recent", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "AA:BB") {
		t.Errorf("archive response missing device: %s", rec.Body.String())
	}
}

func TestTailStreamsLines(t *testing.T) {
	srv, eng, port := testServer(t)
	if err := eng.Connect("/dev/test0"); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/tail")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// The handler registers its listener asynchronously, so feed the line
	// until the stream picks it up.
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(50 * time.Millisecond):
				port.AddReadData([]byte("sniffer boot ok\n"))
			}
		}
	}()

	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	var got string
	for time.Now().Before(deadline) && !strings.Contains(got, "sniffer boot ok") {
		n, err := resp.Body.Read(buf)
		got += string(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(got, "data: sniffer boot ok") {
		t.Errorf("SSE stream = %q, want the raw line as an event", got)
	}
}
