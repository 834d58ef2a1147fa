package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"cashout-mirror/src/config"
	"cashout-mirror/src/interfaces"
	"cashout-mirror/src/logger"
	"cashout-mirror/src/network"
	"cashout-mirror/src/push"
	"cashout-mirror/src/relay"
	"cashout-mirror/src/server"
	"cashout-mirror/src/state"
	"cashout-mirror/src/storage"
	"cashout-mirror/src/upstream"

	"github.com/joho/godotenv"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Secrets (VAPID keys) come from .env when present
	godotenv.Load()

	// Load config from YAML file
	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(config.LogLevel, config.Name)

	// 1. Storage
	var store interfaces.ISubscriptionStore

	switch config.Storage.DBType {
	case "postgres":
		store, err = storage.NewPostgresStore(config.MConfig, appLogger)
	default:
		// Default to SQLite
		store, err = storage.NewSQLiteStore(config.MConfig, appLogger)
	}

	if err != nil {
		appLogger.Critical("Failed to init store: %v", err)
	}
	if err := store.Initialize(); err != nil {
		appLogger.Critical("Failed to migrate store: %v", err)
	}
	defer store.Close()

	// 2. Core components
	var netManager interfaces.INetworkClient = network.NewAsyncNetworkManager(config.MConfig, logger.NewLogger(config.LogLevel, "Network"))

	cache := state.NewStateCache(config.MConfig)
	hub := server.NewHub(cache, logger.NewLogger(config.LogLevel, "Hub"))

	// 3. Push service
	var sender interfaces.IPushSender
	if config.Push.Enabled {
		sender = push.NewWebPushSender(config.Push)
	}
	pushSvc := push.NewService(config.MConfig, sender, store, logger.NewLogger(config.LogLevel, "Push"))

	// 4. Upstream side
	tokens := upstream.NewTokenProvider(config.MConfig, netManager, logger.NewLogger(config.LogLevel, "Token"))

	var notifier upstream.Notifier
	if config.Push.Enabled {
		notifier = pushSvc
	}
	mirror := upstream.NewMirrorClient(config.MConfig, tokens, cache, hub, notifier, logger.NewLogger(config.LogLevel, "Mirror"))

	relaySvc := relay.NewRelayService(config.MConfig, netManager, tokens, mirror, cache, logger.NewLogger(config.LogLevel, "Relay"))

	// 5. HTTP surface
	srv := server.NewAPIServer(config.MConfig, cache, hub, pushSvc, store, logger.NewLogger(config.LogLevel, "Server"))
	srv.Mirror = mirror
	srv.Tokens = tokens
	srv.OnInjectResult = relaySvc.InjectResyncHook()

	// 6. Run
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	pushSvc.StartWorker(ctx, wg)

	if err := relaySvc.Start(ctx, wg); err != nil {
		appLogger.Critical("Failed to start relay: %v", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	appLogger.Info("Mirror running, upstream: %s", config.Upstream.BaseURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	cancel()
	mirror.Stop()
	wg.Wait()
}
