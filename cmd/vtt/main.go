package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rollforge/vtt/server/internal/config"
	"github.com/rollforge/vtt/server/internal/database"
	"github.com/rollforge/vtt/server/internal/game"
	"github.com/rollforge/vtt/server/internal/logger"
	"github.com/rollforge/vtt/server/internal/server"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address for the WebSocket server")
	configFile := flag.String("config", "data/server.yaml", "Path to server config YAML file")
	loggingConfig := flag.String("logging", "data/logging.yaml", "Path to logging config YAML file")
	dbPath := flag.String("db", "", "Database path (sqlite) or DSN (postgres); overrides config")
	noPersist := flag.Bool("no-persist", false, "Run fully in memory without a database")
	flag.Parse()

	// Initialize logger first (before any logging)
	logConfig, _ := logger.LoadConfig(*loggingConfig)
	logger.Initialize(logConfig)

	logger.Info("Starting Rollforge sync server")

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Warning("Failed to load server config, using defaults",
			"path", *configFile, "error", err)
	}
	if *dbPath != "" {
		if cfg.Database.Driver == "postgres" {
			cfg.Database.DSN = *dbPath
		} else {
			cfg.Database.Path = *dbPath
		}
	}

	var srv *server.Server
	if *noPersist {
		logger.Info("Persistence disabled, running in memory")
		srv = server.NewServer(cfg, game.NewMemoryStore(), nil, nil)
	} else {
		db, err := database.Open(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		logger.Info("Database opened", "driver", cfg.Database.Driver)
		srv = server.NewServer(cfg, db, db, db)
	}

	// Handle graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		srv.Shutdown()
	}()

	if err := srv.Start(*addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	logger.Info("Server shut down cleanly")
}
