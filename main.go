package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/joho/godotenv"

	"github.com/luoyjx/crdt-dict/config"
	"github.com/luoyjx/crdt-dict/httpapi"
	"github.com/luoyjx/crdt-dict/redisprotocol"
	"github.com/luoyjx/crdt-dict/server"
)

func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

func main() {
	// Parse command line flags
	configFile := flag.String("config", "", "path to a JSON, YAML or TOML config file")
	loglevel := flag.String("loglevel", "", "log level: debug, info, warn, error")
	port := flag.Int("port", 0, "override the RESP listen port")
	httpPort := flag.Int("http-port", 0, "override the HTTP listen port")
	dataDir := flag.String("data", "", "override the data directory")
	flag.Parse()

	// A .env file is optional.
	godotenv.Load()

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.LoadFromFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	// Flags win over file and environment.
	if *port != 0 {
		cfg.ServerPort = *port
	}
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *loglevel != "" {
		cfg.LogLevel = *loglevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)

	metrics := server.NewMetrics(cfg.MetricsEnabled)

	srv, err := server.NewServer(cfg, logger, metrics)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create server", "err", err)
		os.Exit(1)
	}
	defer srv.Close()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 2)

	redisServer := redisprotocol.NewRedisServer(srv, logger)
	go func() {
		level.Info(logger).Log("msg", "starting RESP server", "addr", cfg.GetAddress(), "replica_id", cfg.ReplicaID)
		if err := redisServer.Start(cfg.GetAddress()); err != nil {
			errChan <- fmt.Errorf("RESP server error: %v", err)
		}
	}()

	go func() {
		level.Info(logger).Log("msg", "starting HTTP server", "addr", cfg.GetHTTPAddress())
		if err := http.ListenAndServe(cfg.GetHTTPAddress(), httpapi.NewRouter(srv, logger)); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		level.Info(logger).Log("msg", "shutting down gracefully")
	case err := <-errChan:
		level.Error(logger).Log("msg", "server error", "err", err)
	}
}
