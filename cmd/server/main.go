package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aeolun/roomcast/pkg/server"
	"github.com/aeolun/roomcast/pkg/supervisor"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "~/.roomcast/config.toml", "Path to config file")
	host := flag.String("host", "", "Listen host (overrides config)")
	port := flag.Int("port", 0, "Listen port (overrides config)")
	workers := flag.String("workers", "", "Cluster worker count or 'auto' (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Roomcast Server %s\n", Version)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	tomlCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := tomlCfg.ToConfig()

	// Command-line flags override config file
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *workers != "" {
		cfg.ClusterWorkers = *workers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !supervisor.IsWorker() {
		runSupervisor(ctx, cfg)
		return
	}

	runServer(ctx, cfg)
}

// runSupervisor keeps the configured number of server replicas alive and
// never serves traffic itself.
func runSupervisor(ctx context.Context, cfg server.Config) {
	count := supervisor.ResolveCount(cfg.ClusterWorkers, server.PortSharing)
	sup := supervisor.New(count, log.Logger)
	if err := sup.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("cluster failed")
	}
	log.Info().Msg("cluster stopped")
}

// runServer is the replica path: serve until the shutdown signal, then drain.
func runServer(ctx context.Context, cfg server.Config) {
	cfg.ReusePort = server.PortSharing

	metrics := server.NewMetrics(prometheus.DefaultRegisterer)
	srv := server.NewServer(cfg, log.Logger, metrics)

	if err := srv.Start(); err != nil {
		// Typically the listen port already being in use. The supervisor
		// contract restarts us without backoff, so this is loud on purpose.
		log.Fatal().Err(err).Msg("failed to start server")
	}
	log.Info().Str("version", Version).Str("addr", cfg.Addr()).Msg("roomcast server started")

	<-ctx.Done()

	log.Info().Msg("shutting down")
	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
