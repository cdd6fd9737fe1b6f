// UniFi Speed Test Prometheus Exporter
//
// This exporter polls a UniFi network controller for broadband speed
// test measurements and exposes them in Prometheus format.
//
// Usage:
//
//	unifi-speedtest-exporter [flags]
//
// Flags:
//
//	-config string    Path to config file (default: no config file)
//	-port int         Port to serve metrics on (default: 9101)
//	-url string       Controller URL (default: https://192.168.1.1)
//	-site string      Controller site (default: default)
//	-type string      Controller type: appliance, classic (default: appliance)
//	-interval int     Speed test schedule interval in minutes (default: 90)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unifi-dashboard/exporter/config"
	"github.com/unifi-dashboard/exporter/controller"
	"github.com/unifi-dashboard/exporter/metrics"
	"github.com/unifi-dashboard/exporter/poller"
	"github.com/unifi-dashboard/exporter/tracker"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const trackerStateKey = "unifi_speedtest_tracker"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Port to serve metrics on (default: 9101)")
	controllerURL := flag.String("url", "", "Controller URL (default: https://192.168.1.1)")
	site := flag.String("site", "", "Controller site (default: default)")
	controllerType := flag.String("type", "", "Controller type: appliance, classic (default: appliance)")
	interval := flag.Int("interval", 0, "Speed test schedule interval in minutes (default: 90)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("unifi-speedtest-exporter %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// A local .env is convenient for credentials; absence is fine.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Load environment variables
	config.LoadConfigFromEnv(cfg)

	// Override with command line flags
	if *port != 0 {
		cfg.Metrics.Port = *port
	}
	if *controllerURL != "" {
		cfg.Controller.URL = *controllerURL
	}
	if *site != "" {
		cfg.Controller.Site = *site
	}
	if *controllerType != "" {
		cfg.Controller.Type = *controllerType
	}
	if *interval != 0 {
		cfg.Speedtest.ScheduleInterval = *interval
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting UniFi Speed Test Exporter %s", version)
	log.Printf("Controller URL: %s", cfg.Controller.URL)
	log.Printf("Controller Type: %s", config.ParseControllerType(cfg.Controller.Type))
	log.Printf("Site: %s", cfg.Controller.Site)
	log.Printf("Schedule Interval: %dm", cfg.Speedtest.ScheduleInterval)
	log.Printf("Polling Interval: %dm", cfg.Speedtest.PollingInterval)
	log.Printf("Metrics Port: %d", cfg.Metrics.Port)

	// Create controller client
	client, err := controller.NewClient(cfg.ToClientConfig())
	if err != nil {
		log.Fatalf("Failed to create controller client: %v", err)
	}

	// Create execution tracker with persisted state
	store := tracker.NewStoreFromEnv()
	trk := tracker.New(store, trackerStateKey)
	if err := trk.Load(); err != nil {
		log.Printf("Could not restore tracker state: %v", err)
	}

	// Start the poll/trigger loops
	p := poller.New(client, trk, cfg.ScheduleInterval(), cfg.PollingInterval())
	if err := p.Start(); err != nil {
		log.Fatalf("Failed to start poller: %v", err)
	}
	defer p.Stop()

	// Register collector with Prometheus
	collector := metrics.NewCollector(p, client, trk)
	prometheus.MustRegister(collector)

	// Create HTTP server
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		hs := client.HealthStatus()
		if !hs.CanAttemptConnection {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "login cooldown active for another %s\n", hs.CooldownRemaining.Round(time.Second))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := p.TriggerNow(); err != nil {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprintf(w, "speed test failed: %v\n", err)
			return
		}
		w.Write([]byte("speed test started\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
<head><title>UniFi Speed Test Exporter</title></head>
<body>
<h1>UniFi Speed Test Exporter</h1>
<p>Version: ` + version + `</p>
<p>Controller: ` + cfg.Controller.URL + `</p>
<p>Site: ` + cfg.Controller.Site + `</p>
<p><a href="` + cfg.Metrics.Path + `">Metrics</a></p>
</body>
</html>`))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	// Start server
	log.Printf("Serving metrics at http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}

	<-ctx.Done()
	if err := trk.Save(); err != nil {
		log.Printf("Failed to persist tracker state on shutdown: %v", err)
	}
	log.Println("Exporter stopped")
}
