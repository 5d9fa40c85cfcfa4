package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"relaydir/internal/favorites"
	"relaydir/internal/service/web"
	"relaydir/internal/shared/config"
	"relaydir/internal/shared/logger"
	"relaydir/internal/shared/types"
	"relaydir/registry"
	"relaydir/registry/feed"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "relaydir.ini")

	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.UpstreamConf.URL == "" {
		logger.Fatal().Msg("No upstream feed URL configured (set [upstream] url or UPSTREAM_URL).")
	}

	favStore := favorites.NewStore(cfg.FavoritesConf.Path)
	if err := favStore.Load(); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.FavoritesConf.Path).Msg("Failed to load favorites store.")
	}

	client := feed.NewClient(cfg.UpstreamConf.URL, time.Duration(cfg.UpstreamConf.TimeoutSeconds)*time.Second)
	cache := registry.NewCache(client, time.Duration(cfg.CacheConf.TTLMinutes)*time.Minute)

	hub := web.NewHub()
	go hub.Run()
	cache.OnRefresh(hub.BroadcastRegistryUpdate)

	handler := web.NewHandler(cache, favStore)

	var wg sync.WaitGroup
	web.StartServer(&wg, cfg, handler, hub)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received.")
}
