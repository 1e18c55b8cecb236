// Command geogate runs the GIS gateway: a single HTTP front for the Bhuvan
// WMS and application APIs, an in-network GeoServer, the public Overpass
// mirrors, and a PostGIS database, plus raster upload storage and shared
// map style configuration.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NERVsystems/geogate/pkg/config"
	"github.com/NERVsystems/geogate/pkg/core"
	"github.com/NERVsystems/geogate/pkg/monitoring"
	"github.com/NERVsystems/geogate/pkg/overpass"
	"github.com/NERVsystems/geogate/pkg/postgis"
	"github.com/NERVsystems/geogate/pkg/proxy"
	"github.com/NERVsystems/geogate/pkg/raster"
	"github.com/NERVsystems/geogate/pkg/server"
	"github.com/NERVsystems/geogate/pkg/styles"
	"github.com/NERVsystems/geogate/pkg/tile"
	"github.com/NERVsystems/geogate/pkg/tracing"
	ver "github.com/NERVsystems/geogate/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool
	configPath      string

	// Overrides for the corresponding config file keys
	listenAddr string

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string
)

func init() {
	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&configPath, "config", "", "Path to config file (default: geogate.yaml in . or /etc/geogate)")
	flag.StringVar(&listenAddr, "addr", "", "Listen address, overrides the config file")

	// Monitoring flags
	flag.BoolVar(&enableMonitoring, "enable-monitoring", true, "Enable Prometheus metrics on the monitoring address")
	flag.StringVar(&monitoringAddr, "monitoring-addr", "", "Monitoring server address, overrides the config file")
}

func main() {
	flag.Parse()

	if showVersionFlag {
		showVersion()
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if monitoringAddr != "" {
		cfg.MonitoringAddr = monitoringAddr
	}

	// Configure logging
	var logLevel slog.Level
	if debug || cfg.Debug {
		logLevel = slog.LevelDebug
	} else {
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry tracing
	ctx := context.Background()
	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		// Continue without tracing - it's not critical
	} else {
		defer func() {
			if err := shutdownTracing(ctx); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()

		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	logger.Info("starting geogate",
		"version", ver.BuildVersion,
		"log_level", logLevel.String(),
		"listen_addr", cfg.ListenAddr,
		"data_dir", cfg.DataDir,
		"monitoring_enabled", enableMonitoring,
		"monitoring_addr", cfg.MonitoringAddr)

	// One pooled HTTP client per upstream. Only the Bhuvan WMS client may
	// skip TLS verification; every other upstream is verified.
	wmsClient := core.NewClient(core.ClientOptions{
		Timeout:     cfg.WMS.Timeout,
		InsecureTLS: cfg.WMS.InsecureTLS,
	})
	geoServerClient := core.NewClient(core.ClientOptions{Timeout: cfg.GeoServer.Timeout})
	bhuvanClient := core.NewClient(core.ClientOptions{Timeout: cfg.Bhuvan.Timeout})

	wms := proxy.NewWMS(cfg.WMS.Base, wmsClient, tile.NewSynthesizer(tile.DefaultCacheSize), logger)
	geoServer := proxy.NewGeoServer(cfg.GeoServer.Base, geoServerClient, logger)
	bhuvan := proxy.NewBhuvanAPI(proxy.BhuvanConfig{
		Base:         cfg.Bhuvan.Base,
		LULCToken:    cfg.Bhuvan.LULCToken,
		RoutingToken: cfg.Bhuvan.RoutingToken,
		Client:       bhuvanClient,
		Logger:       logger,
	})

	endpoints := overpass.DefaultEndpoints
	if cfg.Overpass.Endpoints != "" {
		endpoints = overpass.AppendExtraEndpoints(cfg.Overpass.Endpoints)
	}
	osmClient := overpass.NewClient(overpass.Config{
		Endpoints:     endpoints,
		RatePerSecond: cfg.Overpass.RatePerSecond,
		Burst:         cfg.Overpass.Burst,
		Timeout:       cfg.Overpass.Timeout,
		Logger:        logger,
	})

	// Postgres is optional: without it the attribute, distinct, and buffer
	// endpoints answer 503 and the style store falls back to its JSON file.
	var db *sql.DB
	var gisStore *postgis.Store
	var styleDB styles.Store
	if cfg.Database.URL != "" {
		db, err = sql.Open("pgx", cfg.Database.URL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("database unreachable at startup, continuing degraded", "error", err)
		}
		cancel()

		gisStore = postgis.NewStore(db, logger)

		dbStore := styles.NewDBStore(db)
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := dbStore.EnsureSchema(schemaCtx); err != nil {
			logger.Warn("could not ensure style_config table", "error", err)
		}
		cancel()
		styleDB = dbStore
	} else {
		logger.Info("no database configured, database-backed endpoints degraded")
	}

	styleSvc := styles.NewService(styleDB, styles.NewFileStore(cfg.StyleFallbackFile()), logger)
	rasterStore := raster.NewStore(cfg.RasterDir(), logger)

	api := server.NewAPI(gisStore, styleSvc, rasterStore, osmClient, logger)

	gwConfig := server.DefaultConfig()
	gwConfig.Addr = cfg.ListenAddr
	gwConfig.RateLimit = cfg.RateLimit.RequestsPerSecond
	gwConfig.RateBurst = cfg.RateLimit.Burst

	gw := server.NewGateway(gwConfig, server.Deps{
		WMS:       wms,
		GeoServer: geoServer,
		Bhuvan:    bhuvan,
		API:       api,
		RasterDir: cfg.RasterDir(),
	}, logger)

	// Initialize health checker
	var healthChecker *monitoring.HealthChecker
	if enableMonitoring {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
		defer healthChecker.Shutdown()

		gw.SetHealthChecker(healthChecker)
		stopMonitors := startUpstreamMonitoring(healthChecker, osmClient, geoServer, gisStore, logger)
		defer stopMonitors()
	}

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start monitoring server if enabled (Prometheus metrics only)
	var monitoringServer *http.Server
	if enableMonitoring {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		monitoringServer = &http.Server{
			Addr:              cfg.MonitoringAddr,
			Handler:           mux,
			ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		}

		go func() {
			logger.Info("starting Prometheus metrics server", "addr", cfg.MonitoringAddr)
			if err := monitoringServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("monitoring server error", "error", err)
			}
		}()

		// Setup graceful shutdown for monitoring server
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := monitoringServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown monitoring server", "error", err)
			}
		}()
	}

	// Run the gateway until it fails or a shutdown signal arrives
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gw.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown gateway", "error", err)
		}
	}

	logger.Info("server stopped")
}

func showVersion() {
	fmt.Println(ver.String())
}

// startUpstreamMonitoring starts periodic health probes against the
// upstreams that have a cheap check. The returned function stops the
// probe goroutines.
func startUpstreamMonitoring(healthChecker *monitoring.HealthChecker, osmClient *overpass.Client, geoServer *proxy.GeoServer, gisStore *postgis.Store, logger *slog.Logger) func() {
	services := []string{"overpass", "geoserver"}
	var monitors []*monitoring.ConnectionMonitor

	overpassMonitor := monitoring.NewConnectionMonitor(
		"overpass",
		healthChecker,
		func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return osmClient.CheckHealth(checkCtx)
		},
		30*time.Second,
	)
	overpassMonitor.Start()
	monitors = append(monitors, overpassMonitor)

	geoServerMonitor := monitoring.NewConnectionMonitor(
		"geoserver",
		healthChecker,
		func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return geoServer.CheckHealth(checkCtx)
		},
		30*time.Second,
	)
	geoServerMonitor.Start()
	monitors = append(monitors, geoServerMonitor)

	if gisStore != nil {
		services = append(services, "postgres")
		postgresMonitor := monitoring.NewConnectionMonitor(
			"postgres",
			healthChecker,
			func() error {
				checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return gisStore.Ping(checkCtx)
			},
			30*time.Second,
		)
		postgresMonitor.Start()
		monitors = append(monitors, postgresMonitor)
	}

	logger.Info("started upstream monitoring",
		"services", services,
		"check_interval", "30s")

	return func() {
		for _, m := range monitors {
			m.Stop()
		}
	}
}
