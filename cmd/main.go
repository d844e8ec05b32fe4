package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/alxld/new-zone-light/internal/api"
	"github.com/alxld/new-zone-light/internal/clock"
	"github.com/alxld/new-zone-light/internal/config"
	"github.com/alxld/new-zone-light/internal/ha"
	"github.com/alxld/new-zone-light/internal/history"
	"github.com/alxld/new-zone-light/internal/mqtt"
	"github.com/alxld/new-zone-light/internal/plugins/zonelight"
	"github.com/alxld/new-zone-light/internal/shadowstate"
)

const (
	historyRetention = 30 * 24 * time.Hour
	shutdownTimeout  = 10 * time.Second
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	settings, err := config.Load(logger)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting Zone Light service",
		zap.String("url", settings.HAURL),
		zap.String("config_dir", settings.ConfigDir),
		zap.Bool("read_only", settings.ReadOnly))

	zones, err := zonelight.LoadConfig(settings.ZonesFile())
	if err != nil {
		logger.Fatal("Failed to load zones", zap.String("path", settings.ZonesFile()), zap.Error(err))
	}

	// Create HA client
	client := ha.NewClient(settings.HAURL, settings.HAToken, logger)

	// Connect to Home Assistant
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	logger.Info("Connected to Home Assistant")

	deps := zonelight.Deps{
		HA:              client,
		Topics:          mqtt.Topics{},
		Tracker:         shadowstate.NewTracker(clock.NewRealClock()),
		Logger:          logger,
		ReadOnly:        settings.ReadOnly,
		RefreshSchedule: settings.RefreshSchedule,
	}

	if settings.MQTTEnabled() {
		broker, err := mqtt.Connect(mqtt.Config{
			Host:     settings.MQTTHost,
			Port:     settings.MQTTPort,
			Username: settings.MQTTUsername,
			Password: settings.MQTTPassword,
			ClientID: settings.MQTTClientID,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer broker.Close()
		deps.MQTT = broker
	} else {
		logger.Info("MQTT_HOST not set, zigbee2mqtt inputs disabled")
	}

	var historyStore *history.Store
	maintenance := cron.New()
	if settings.HistoryDB != "" {
		historyStore, err = history.Open(settings.HistoryDB, clock.NewRealClock())
		if err != nil {
			logger.Fatal("Failed to open history database", zap.String("path", settings.HistoryDB), zap.Error(err))
		}
		defer historyStore.Close()
		deps.History = historyStore

		if _, err := maintenance.AddFunc("@daily", func() {
			n, err := historyStore.DeleteOlderThan(historyRetention)
			if err != nil {
				logger.Warn("Failed to prune history", zap.Error(err))
				return
			}
			logger.Info("Pruned history", zap.Int64("deleted", n))
		}); err != nil {
			logger.Fatal("Failed to schedule history pruning", zap.Error(err))
		}
	}

	set, err := zonelight.NewSet(zones, settings.ButtonMapFile, deps)
	if err != nil {
		logger.Fatal("Failed to build zones", zap.Error(err))
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), shutdownTimeout)
	err = set.Start(startCtx)
	cancelStart()
	if err != nil {
		logger.Fatal("Failed to start zones", zap.Error(err))
	}
	maintenance.Start()

	// History is optional; a nil *history.Store must not become a non-nil interface
	var historyReader api.HistoryReader
	if historyStore != nil {
		historyReader = historyStore
	}
	lookup := func(name string) (api.ZoneRunner, bool) {
		r, ok := set.Runner(name)
		if !ok {
			return nil, false
		}
		return r, true
	}
	server := api.NewServer(deps.Tracker, lookup, historyReader, logger, settings.APIPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	if settings.ReadOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant")
	}
	logger.Info("Zones running",
		zap.Strings("zones", set.Names()),
		zap.Int("api_port", settings.APIPort))

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")

	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	<-maintenance.Stop().Done()
	set.Stop(ctx)
}
