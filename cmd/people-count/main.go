package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/people.count/internal/api"
	"github.com/banshee-data/people.count/internal/config"
	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/db"
	"github.com/banshee-data/people.count/internal/homeassistant"
	"github.com/banshee-data/people.count/internal/lighting"
	"github.com/banshee-data/people.count/internal/monitoring"
	"github.com/banshee-data/people.count/internal/rangefinder"
	"github.com/banshee-data/people.count/internal/serialmux"
	"github.com/banshee-data/people.count/internal/timeutil"
	"github.com/banshee-data/people.count/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Replay a recording instead of reading the sensor")
	configFile  = flag.String("config", "", "Path to a JSON config file")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	dbPath      = flag.String("db", "", "Path to the episode log database (overrides config)")
	port        = flag.String("port", "", "Serial port of the sensor bridge (overrides config)")
	debug       = flag.Bool("debug", false, "Log every sample")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	monitoring.SetVerbose(*debug || cfg.GetVerbose())

	command := "serve"
	var args []string
	if flag.NArg() > 0 {
		command = flag.Arg(0)
		args = flag.Args()[1:]
	}

	switch command {
	case "serve":
		err = serve(cfg)
	case "migrate":
		err = db.RunMigrateCommand(args, cfg.GetDBPath(), os.Stdout)
	case "stats":
		err = runStats(args, cfg, os.Stdout)
	case "version":
		fmt.Println(version.Current())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Fprintln(flag.CommandLine.Output(), `people-count - doorway people counter

Usage: people-count [flags] [command] [args]

Commands:
  serve      Count people and serve the HTTP API (default)
  migrate    Manage the episode log schema (up, down, status, version N, force N)
  stats      Summarise the episode log (-since 24h, -plot file.png, -chart file.html)
  version    Show the version
  help       Show this help message

Flags:`)
	flag.PrintDefaults()
}

// loadConfig reads -config when given and applies the flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg, *listen, *dbPath, *port)
	return cfg, nil
}

func applyFlags(cfg *config.Config, listen, dbPath, port string) {
	if listen != "" {
		cfg.Listen = &listen
	}
	if dbPath != "" {
		cfg.DBPath = &dbPath
	}
	if port != "" {
		if cfg.Sensor == nil {
			cfg.Sensor = &config.SensorConfig{}
		}
		cfg.Sensor.Port = &port
	}
}

// openSource returns the range source and the serial mux behind it. In dev
// mode the mux is disabled and the source replays a recording.
func openSource(cfg *config.Config, dev bool) (counter.Source, serialmux.SerialMuxInterface, error) {
	if dev {
		opts := []rangefinder.ReplayOption{
			rangefinder.WithLoop(cfg.GetReplayLoop()),
			rangefinder.WithPace(timeutil.RealClock{}, cfg.GetReplayPace()),
		}
		var src *rangefinder.ReplaySource
		var err error
		if file := cfg.GetReplayFile(); file != "" {
			src, err = rangefinder.LoadReplayFile(file, opts...)
		} else {
			src, err = rangefinder.LoadDefaultReplay(opts...)
		}
		if err != nil {
			return nil, nil, err
		}
		return src, serialmux.NewDisabledSerialMux(), nil
	}

	mux, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), cfg.GetPortOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sensor port: %w", err)
	}
	log.Printf("[serial] opened %s at %s", cfg.GetSerialPort(), cfg.GetPortOptions())
	src := rangefinder.NewSerialSource(mux,
		rangefinder.WithROIs(cfg.GetROIs()),
		rangefinder.WithRangingMode(cfg.GetRangingMode()),
		rangefinder.WithSampleTimeout(cfg.GetSampleTimeout()),
	)
	return src, mux, nil
}

func serve(cfg *config.Config) error {
	src, sensorMux, err := openSource(cfg, *devMode)
	if err != nil {
		return err
	}
	defer sensorMux.Close()

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open episode log: %w", err)
	}
	defer store.Close()

	var light lighting.Light
	if cfg.HueEnabled() {
		light = lighting.NewHueClient(cfg.GetHue(), nil)
		log.Printf("[lighting] using Hue bridge %s group %s", cfg.GetHue().BridgeURL, cfg.GetHue().Group)
	}

	var bridge *homeassistant.Bridge
	if cfg.MQTTEnabled() {
		if bridge, err = homeassistant.Connect(cfg.GetMQTT()); err != nil {
			return err
		}
		defer bridge.Close()
	}

	svc := newService(cfg, src, store, light, bridge, nil)

	// Create a wait group for the HTTP server, serial monitor, and detector routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sensorMux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
			stop()
		}
		log.Print("monitor routine terminated")
	}()

	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
			log.Printf("detector stopped: %v", err)
			stop()
		}
		log.Print("detector routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := svc.apiServer().ServeMux()
		sensorMux.AttachAdminRoutes(mux)
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach db admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", cfg.GetListen())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return runErr
}

// runStats prints the fault summary of the episode log and optionally writes
// the step plot and the HTML chart.
func runStats(args []string, cfg *config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(out)
	since := fs.Duration("since", 0, "Only include episodes from this long ago (0 for all)")
	plotPath := fs.String("plot", "", "Write a PNG step plot of the count to this file")
	chartPath := fs.String("chart", "", "Write an HTML chart of the count to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open episode log: %w", err)
	}
	defer store.Close()

	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}
	return writeStats(store, from, *plotPath, *chartPath, out)
}
