// Package console implements the interactive operator command surface: each
// input line is parsed into a verb plus arguments and dispatched against the
// engine. The processor holds no state of its own beyond defaults, so every
// command runs against the engine's current state.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/nora-data/presence.report/internal/engine"
	"github.com/nora-data/presence.report/internal/serialmux"
)

// Default artifact names used when a command omits the file argument.
const (
	defaultLogFile      = "observations.csv"
	defaultSnapshotFile = "snapshot.json"
)

// Processor dispatches operator commands against the engine.
type Processor struct {
	eng         *engine.Engine
	out         io.Writer
	defaultPort string
}

// New creates a processor writing responses to out. defaultPort is used by
// a bare `connect`.
func New(eng *engine.Engine, out io.Writer, defaultPort string) *Processor {
	return &Processor{eng: eng, out: out, defaultPort: defaultPort}
}

// Execute runs one command line. It returns true when the operator asked to
// quit. Invalid input never returns an error: notices and usage hints go to
// the output writer and the session continues.
func (p *Processor) Execute(line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "help":
		p.printHelp()
	case "clear":
		p.eng.ClearTail()
		p.printf("raw output cleared")
	case "connect":
		p.connect(args)
	case "disconnect":
		p.disconnect()
	case "status":
		p.printStatus()
	case "filter":
		p.setFilter(args)
	case "target":
		p.target(args)
	case "list":
		p.list()
	case "chart":
		p.chart(args)
	case "export":
		p.export(args)
	case "log":
		p.log(args)
	case "purge":
		p.eng.Purge()
		p.printf("tracked devices purged")
	case "quit", "exit":
		return true
	default:
		p.printf("unknown command %q (try help)", verb)
	}
	return false
}

func (p *Processor) printf(format string, v ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", v...)
}

func (p *Processor) printHelp() {
	p.printf(`commands:
  help                    show this help
  connect [path]          open the serial port and start ingesting
  disconnect              close the serial port (history is kept)
  status                  connection, tracking, filter, and log state
  list                    tracked devices passing the filter
  target <mac>            analysis card for one device
  filter <text>|clear     set or clear the display filter
  chart <mac> [file]      write an HTML signal chart
  export [file]           write a JSON snapshot of all tracked devices
  log start|stop [file]   control the CSV observation log
  clear                   discard retained raw module output
  purge                   drop all tracked devices
  quit                    exit`)
}

func (p *Processor) connect(args []string) {
	path := p.defaultPort
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		p.printf("usage: connect <path>")
		if ports, err := serialmux.ListPorts(); err == nil && len(ports) > 0 {
			p.printf("available ports: %s", strings.Join(ports, ", "))
		}
		return
	}
	if err := p.eng.Connect(path); err != nil {
		p.printf("connect failed: %v", err)
		return
	}
	p.printf("connected to %s", path)
}

func (p *Processor) disconnect() {
	if err := p.eng.Disconnect(); err != nil {
		p.printf("disconnect failed: %v", err)
		return
	}
	p.printf("disconnected")
}

func (p *Processor) printStatus() {
	if port, connected := p.eng.Connected(); connected {
		p.printf("connection: %s", port)
	} else {
		p.printf("connection: none")
	}
	p.printf("devices tracked: %d", p.eng.Store().Len())
	if filter := p.eng.Filter(); filter != "" {
		p.printf("filter: %q", filter)
	} else {
		p.printf("filter: off")
	}
	if path, rows, active := p.eng.LogStatus(); active {
		p.printf("log: %s (%d rows)", path, rows)
	} else {
		p.printf("log: off")
	}
}

func (p *Processor) setFilter(args []string) {
	if len(args) == 0 {
		p.printf("usage: filter <text> | filter clear")
		return
	}
	if strings.EqualFold(args[0], "clear") {
		p.eng.SetFilter("")
		p.printf("filter cleared")
		return
	}
	query := strings.Join(args, " ")
	p.eng.SetFilter(query)
	p.printf("filter set to %q", query)
}

// target prints the analysis card for one device: latest signal, estimated
// distance, session statistics, link quality, and activity status.
func (p *Processor) target(args []string) {
	if len(args) == 0 {
		p.printf("usage: target <mac>")
		return
	}
	mac := args[0]
	info, ok := p.eng.Device(mac)
	if !ok {
		p.printf("device %s has not been seen", mac)
		return
	}
	p.printf("target: %s (%s)", info.MAC, info.Type)
	p.printf("  rssi:     %d dBm", info.Stats.Current)
	p.printf("  distance: %.2f m", info.Stats.Distance)
	p.printf("  average:  %.1f dBm", info.Stats.Average)
	p.printf("  peak:     %d dBm", info.Stats.Peak)
	p.printf("  quality:  %s", info.Stats.Quality)
	p.printf("  status:   %s", info.Status.Label())
	p.printf("  samples:  %d", len(info.Samples))
}

func (p *Processor) list() {
	devices := p.eng.Devices()
	if len(devices) == 0 {
		p.printf("no devices tracked")
		return
	}
	p.printf("%-20s %-12s %6s %8s %10s %s", "MAC", "TYPE", "RSSI", "DIST", "QUALITY", "STATUS")
	for _, d := range devices {
		p.printf("%-20s %-12s %6d %7.2fm %10s %s",
			d.MAC, d.Type, d.Stats.Current, d.Stats.Distance, d.Stats.Quality, d.Status.Label())
	}
}

func (p *Processor) chart(args []string) {
	if len(args) == 0 {
		p.printf("usage: chart <mac> [file]")
		return
	}
	mac := args[0]
	path := chartFileName(mac)
	if len(args) > 1 {
		path = args[1]
	}
	ok, err := p.eng.WriteChart(mac, path)
	if !ok {
		p.printf("device %s has not been seen", mac)
		return
	}
	if err != nil {
		p.printf("chart failed: %v", err)
		return
	}
	p.printf("chart written to %s", path)
}

// chartFileName derives a filesystem-safe default from the device
// identifier.
func chartFileName(mac string) string {
	safe := strings.NewReplacer(":", "", "/", "_", "\\", "_").Replace(mac)
	return fmt.Sprintf("chart-%s.html", safe)
}

func (p *Processor) export(args []string) {
	path := defaultSnapshotFile
	if len(args) > 0 {
		path = args[0]
	}
	if err := p.eng.ExportSnapshot(path); err != nil {
		p.printf("export failed: %v", err)
		return
	}
	p.printf("snapshot written to %s (%d devices)", path, p.eng.Store().Len())
}

func (p *Processor) log(args []string) {
	if len(args) == 0 {
		p.printf("usage: log start|stop [file]")
		return
	}
	switch strings.ToLower(args[0]) {
	case "start":
		path := defaultLogFile
		if len(args) > 1 {
			path = args[1]
		}
		if err := p.eng.StartLog(path); err != nil {
			p.printf("log start failed: %v", err)
			return
		}
		p.printf("logging observations to %s", path)
	case "stop":
		if err := p.eng.StopLog(); err != nil {
			p.printf("log stop failed: %v", err)
			return
		}
		p.printf("logging stopped")
	default:
		p.printf("usage: log start|stop [file]")
	}
}

// Run reads command lines from r until quit or EOF.
func (p *Processor) Run(r io.Reader) {
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		if p.Execute(scan.Text()) {
			return
		}
	}
}
