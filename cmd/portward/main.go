package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/portward/internal/auth"
	"github.com/HerbHall/portward/internal/config"
	"github.com/HerbHall/portward/internal/event"
	"github.com/HerbHall/portward/internal/forward"
	"github.com/HerbHall/portward/internal/registry"
	"github.com/HerbHall/portward/internal/server"
	"github.com/HerbHall/portward/internal/settings"
	"github.com/HerbHall/portward/internal/store"
	"github.com/HerbHall/portward/internal/version"
	"github.com/HerbHall/portward/internal/ws"
	"github.com/HerbHall/portward/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			runToken(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Portward server starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	var srvCfg server.Config
	if err := viperCfg.UnmarshalKey("server", &srvCfg); err != nil {
		logger.Fatal("invalid server configuration", zap.Error(err))
	}

	// Open database
	dbPath := viperCfg.GetString("database.path")
	if dbPath == "" {
		dbPath = "portward.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.CheckVersion(ctx, version.Version); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}
	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	// Create shared services
	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	// Register all plugins (compile-time composition)
	forwardMod := forward.New(&srvCfg)
	modules := []plugin.Plugin{
		settings.New(),
		forwardMod,
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}

	if err := reg.Validate(); err != nil {
		logger.Fatal("plugin validation failed", zap.Error(err))
	}

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	// API token auth: only enabled when a secret is configured.
	var tokens *auth.TokenService
	var extraMW []server.Middleware
	if secret := viperCfg.GetString("auth.token_secret"); secret != "" {
		ttl := viperCfg.GetDuration("auth.token_ttl")
		if ttl == 0 {
			ttl = 24 * time.Hour
		}
		tokens = auth.NewTokenService([]byte(secret), ttl)
		extraMW = append(extraMW, auth.Middleware(tokens))
		logger.Info("API token authentication enabled",
			zap.String("component", "auth"),
			zap.Duration("token_ttl", ttl),
		)
	} else {
		logger.Warn("API token authentication disabled (set auth.token_secret to enable)",
			zap.String("component", "auth"),
		)
	}

	// WebSocket relay for forwarding events.
	wsHandler := ws.NewHandler(tokens, bus, logger.Named("ws"))

	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return db.DB().PingContext(ctx)
	})
	srv := server.New(&srvCfg, reg, logger.Named("server"), readyCheck, extraMW, wsHandler)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("Portward server ready", zap.String("addr", srvCfg.Addr()))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reg.StopAll(shutdownCtx)
	if err := forwardMod.Close(); err != nil {
		logger.Error("forward module close error", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("Portward server stopped")
}

// runToken mints an API access token using the configured signing secret.
func runToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	name := fs.String("name", "cli", "client name embedded in the token")
	ttl := fs.Duration("ttl", 0, "token lifetime (default: auth.token_ttl from config)")
	_ = fs.Parse(args)

	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	secret := viperCfg.GetString("auth.token_secret")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "auth.token_secret is not configured; cannot mint tokens")
		os.Exit(1)
	}

	lifetime := *ttl
	if lifetime == 0 {
		lifetime = viperCfg.GetDuration("auth.token_ttl")
	}
	if lifetime == 0 {
		lifetime = 24 * time.Hour
	}

	token, err := auth.NewTokenService([]byte(secret), lifetime).Mint(*name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
