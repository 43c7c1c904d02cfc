// File: cmd/server/main.go
// Project: Coldport
// Description: Main TCP game server entry point
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/coldport/coldport-server/internal/broadcast"
	"github.com/coldport/coldport-server/internal/config"
	"github.com/coldport/coldport-server/internal/cronsched"
	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/handlers"
	"github.com/coldport/coldport-server/internal/logger"
	"github.com/coldport/coldport-server/internal/metrics"
	"github.com/coldport/coldport-server/internal/ratelimit"
	"github.com/coldport/coldport-server/internal/s2s"
	"github.com/coldport/coldport-server/internal/session"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"

	log = logger.WithComponent("main")
)

func main() {
	var (
		configFile  = flag.String("config", config.DefaultConfigFileName, "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		logLevel    = flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("Coldport %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	if err := logger.Init(logger.Config{Level: level, ToStdout: true, WithCaller: true}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	log.Info("Coldport starting up: version=%s commit=%s built=%s", version, commit, date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	db, err := database.NewDB(&database.Config{
		Path:          cfg.Database.Path,
		BusyTimeoutMS: cfg.Database.BusyTimeoutMS,
		MaxOpenConns:  cfg.Database.MaxOpenConns,
	})
	if err != nil {
		log.Fatal("Failed to open store: %v", err)
	}
	defer db.Close()

	if err := db.Bootstrap(ctx); err != nil {
		log.Fatal("Failed to bootstrap store: %v", err)
	}

	metrics.Init()
	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Addr, metrics.Global(), db)
		go func() {
			if err := metricsSrv.Start(); err != nil {
				log.Warn("Metrics server stopped: error=%v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			metricsSrv.Stop(context.Background())
		}()
	}

	auth := session.NewAuth(db)
	sessions := session.NewManager(db)
	defer sessions.Shutdown()

	bcaster := broadcast.New()

	var connLimiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rlCfg := ratelimit.DefaultConfig()
		rlCfg.MaxConnectionsPerIP = cfg.RateLimit.MaxConnectionsPerIP
		rlCfg.MaxAuthAttempts = cfg.RateLimit.MaxAuthAttempts
		connLimiter = ratelimit.NewLimiter(rlCfg)
		defer connLimiter.Stop()
	}

	d := dispatch.New(db, auth, sessions, bcaster, connLimiter)
	d.RegisterMany(handlers.All(&handlers.Deps{
		DB: db, Auth: auth, Sessions: sessions, Broadcaster: bcaster,
	}))

	scheduler := cronsched.New(db, cfg.Cron.TickInterval)
	scheduler.RegisterMany(cronsched.DefaultHandlers(db, bcaster))
	go scheduler.Run(ctx)

	serverPort, s2sPort := config.ResolvePorts(ctx, db)
	addr := ":" + strconv.Itoa(serverPort)
	s2sAddr := ":" + strconv.Itoa(s2sPort)

	s2sSrv := s2s.New(db)
	go func() {
		if err := s2sSrv.ListenAndServe(ctx, s2sAddr); err != nil {
			log.Warn("S2S command rail stopped: error=%v", err)
		}
	}()

	log.Info("Server initialized successfully, starting main loop on %s", addr)
	if err := d.ListenAndServe(ctx, addr); err != nil {
		log.Fatal("Server error: %v", err)
	}

	log.Info("Server shutdown complete")
}
