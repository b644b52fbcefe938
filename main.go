package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nora-data/presence.report/internal/api"
	"github.com/nora-data/presence.report/internal/archive"
	"github.com/nora-data/presence.report/internal/config"
	"github.com/nora-data/presence.report/internal/console"
	"github.com/nora-data/presence.report/internal/engine"
	"github.com/nora-data/presence.report/internal/monitoring"
	"github.com/nora-data/presence.report/internal/serialmux"
	"github.com/nora-data/presence.report/internal/timeutil"
)

var (
	devMode    = flag.Bool("dev", false, "Replay fixtures instead of opening a real serial port")
	listen     = flag.String("listen", ":8080", "Listen address")
	portPath   = flag.String("port", "/dev/ttyUSB0", "Serial port of the sniffer module")
	baudRate   = flag.Int("baud", 0, "Serial baud rate (overrides the tuning file)")
	dbFile     = flag.String("db", "presence.db", "Observation archive path (empty disables archiving)")
	configFile = flag.String("config", "", "Tuning file (JSON)")
	fixtures   = flag.String("fixtures", "fixtures.txt", "Fixture file replayed in dev mode")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	monitoring.SetDebug(*debug)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := &config.Tuning{}
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("failed to load tuning file: %v", err)
		}
	}
	if *baudRate > 0 {
		cfg.BaudRate = baudRate
	}

	var arch *archive.Archive
	if *dbFile != "" {
		var err error
		arch, err = archive.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open observation archive: %v", err)
		}
		defer arch.Close()
	}

	eng := engine.New(cfg, timeutil.RealClock{}, arch)
	defer eng.Close()

	connectTo := *portPath
	if *devMode {
		data, err := os.ReadFile(*fixtures)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		eng.SetPortOpener(func(string, int) (serialmux.Muxer, error) {
			return serialmux.NewReplayMux(data, time.Second), nil
		})
		connectTo = "fixtures:" + *fixtures
	}

	if err := eng.Connect(connectTo); err != nil {
		// Not fatal: the operator can plug the module in and run
		// `connect` from the console.
		log.Printf("initial connect failed: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		if arch != nil {
			if err := arch.AttachAdminRoutes(mux); err != nil {
				log.Fatalf("failed to attach admin routes: %v", err)
			}
		}

		apiMux := api.NewServer(eng, arch).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	// Interactive console on stdin. Not in the wait group: a quit ends the
	// whole process via stop(), while a signal shuts everything else down
	// even if stdin stays open.
	go func() {
		console.New(eng, os.Stdout, *portPath).Run(os.Stdin)
		stop()
	}()

	wg.Wait()
	log.Printf("graceful shutdown complete")
}
