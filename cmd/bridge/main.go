// Command bridge runs the Modbus-to-OPC-UA protocol bridge: it loads the
// device catalog, starts the Modbus Client Pool and per-device Pollers,
// opens the Modem Listener Bank, and serves the HTTP admin interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"modbus-bridge/internal/addressspace"
	"modbus-bridge/internal/adminhttp"
	"modbus-bridge/internal/bridgemetrics"
	"modbus-bridge/internal/catalog"
	"modbus-bridge/internal/config"
	"modbus-bridge/internal/engine"
	"modbus-bridge/internal/modbusclient"
	"modbus-bridge/internal/modem"
	"modbus-bridge/internal/poller"
	"modbus-bridge/internal/tagstore"
)

func main() {
	var (
		configFile  = flag.String("config", "bridge.yaml", "Path to configuration file")
		logLevel    = flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
		httpPort    = flag.Int("http-port", 0, "Override the configured HTTP admin port")
		healthCheck = flag.Bool("health-check", false, "Perform a health check against the admin HTTP endpoint and exit")
	)
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck())
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *httpPort != 0 {
		cfg.HTTP.Port = *httpPort
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting modbus bridge",
		zap.Int("httpPort", cfg.HTTP.Port),
		zap.Int("opcuaPort", cfg.OPCUA.Port),
		zap.Int("modemLowPort", cfg.Modem.LowPort),
		zap.Int("modemHighPort", cfg.Modem.HighPort),
	)

	store := tagstore.New()
	pool := modbusclient.New(logger)
	facade := addressspace.NewInMemoryFacade()
	bridge := addressspace.New(logger, store, pool, facade)
	modemBank := modem.New(logger, store, cfg.Modem.LowPort, cfg.Modem.HighPort)
	cat := catalog.NewFileCatalog(cfg.Catalog.Path)

	metrics := bridgemetrics.New()
	modemBank.SetRecorder(metrics)
	pool.SetRecorder(metrics)

	httpServer := adminhttp.New(logger, nil, store, modemBank.Registry)
	httpServer.SetRecorder(metrics)
	pub := &fanoutRepublisher{bridge: bridge, server: httpServer, store: store}
	pl := poller.New(logger, pool, store, pub)
	pl.SetRecorder(metrics)

	eng := engine.New(logger, cfg, store, pool, pl, bridge, modemBank, cat)
	httpServer.SetEngine(eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal, shutting down gracefully")
		cancel()
	}()

	if err := modemBank.Start(); err != nil {
		logger.Error("failed to start modem listener bank", zap.Error(err))
		os.Exit(1)
	}
	defer modemBank.Close()

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", zap.Error(err))
		os.Exit(1)
	}
	defer eng.Shutdown()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: httpServer.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	logger.Info("modbus bridge shutdown complete")
}

// fanoutRepublisher notifies both the Address-Space Bridge and the HTTP
// admin live feed after a poll updates the Tag Store, so OPC UA
// subscribers and WebSocket clients observe the same samples.
type fanoutRepublisher struct {
	bridge *addressspace.Bridge
	server *adminhttp.Server
	store  *tagstore.Store
}

func (f *fanoutRepublisher) Republish(deviceID, tagName string) {
	f.bridge.Republish(deviceID, tagName)
	if e, ok := f.store.Get(deviceID, tagName); ok {
		f.server.BroadcastTagUpdate(deviceID, tagName, tagstore.SnapshotValue(e.Value))
	}
}

func performHealthCheck() int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:3000/health")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return 0
	}
	return 1
}
