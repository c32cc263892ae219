// Command memsnap-server serves snapshot artifacts to sandbox hosts.
//
// Usage:
//
//	memsnap-server [-config /etc/memsnap/memsnap.yaml]
//	memsnap-server -version
//
// Instances upload the baseline snapshot they captured on their first cold
// start and later instances download it to skip interpreter start-up.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/yndnr/memsnap-go/internal/artifact/backends"
	"github.com/yndnr/memsnap-go/internal/infra/buildinfo"
	"github.com/yndnr/memsnap-go/internal/infra/confloader"
	"github.com/yndnr/memsnap-go/internal/infra/shutdown"
	"github.com/yndnr/memsnap-go/internal/infra/tlsroots"
	"github.com/yndnr/memsnap-go/internal/server/config"
	"github.com/yndnr/memsnap-go/internal/server/httpserver"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
	"github.com/yndnr/memsnap-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("memsnap-server " + buildinfo.String())
		return nil
	}

	cfg, err := config.Load(*configFile, nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stdout})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogger := logger.Slog(log)

	info := buildinfo.Get()
	log.Info("starting memsnap-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metric.NewRegistry()
	store, err := backends.Open(cfg.Storage, slogger, reg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	handler := httpserver.NewRouter(&httpserver.RouterConfig{
		Backend:           store,
		BackendName:       store.Name,
		Logger:            log,
		Metrics:           reg,
		ReadTokens:        cfg.Server.HTTP.ReadTokens,
		WriteTokens:       cfg.Server.HTTP.WriteTokens,
		WriteAllowList:    cfg.Server.HTTP.WriteAllowList,
		RateLimit:         cfg.Server.HTTP.RateLimit,
		RateLimitBurst:    cfg.Server.HTTP.RateLimitBurst,
		MaxArtifactSize:   cfg.Server.HTTP.MaxArtifactSize,
		ValidateSnapshots: cfg.Server.HTTP.ValidateSnapshots,
		ReadOnly:          cfg.Server.HTTP.ReadOnly,
	})

	srvCfg := httpserver.ServerConfig{Addr: cfg.Server.HTTP.Addr}
	if cfg.Server.HTTP.TLSEnabled() {
		kp, err := tlsroots.LoadKeypair(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile, slogger)
		if err != nil {
			store.Close()
			return err
		}
		if srvCfg.TLSConfig, err = kp.ServerConfig(cfg.Server.HTTP.TLSClientCAFile); err != nil {
			store.Close()
			return err
		}
		go func() {
			if err := kp.Run(ctx); err != nil {
				log.Error("tls keypair watcher stopped", "error", err)
			}
		}()
		log.Info("tls enabled", "cert_file", cfg.Server.HTTP.TLSCertFile, "not_after", kp.NotAfter())
	}
	server := httpserver.New(srvCfg, handler)

	ln, err := net.Listen("tcp", cfg.Server.HTTP.Addr)
	if err != nil {
		store.Close()
		return fmt.Errorf("listen %s: %w", cfg.Server.HTTP.Addr, err)
	}

	sd := shutdown.NewHandler(cfg.Server.ShutdownTimeout, slogger)
	sd.OnShutdown("storage", func(context.Context) error {
		log.Info("closing artifact store")
		return store.Close()
	})
	sd.OnShutdown("http", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})
	sd.OnShutdown("background", func(context.Context) error {
		cancel()
		return nil
	})

	go store.RunPruner(ctx, cfg.Storage.PruneInterval, slogger)
	if path := *configFile; path != "" {
		go watchLogLevel(ctx, path, log)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("artifact service listening",
			"addr", ln.Addr().String(),
			"backend", store.Name,
			"tls", srvCfg.TLSConfig != nil)
		serveErr <- server.Serve(ln)
	}()

	waitCtx, stopWait := context.WithCancelCause(ctx)
	go func() {
		if err := <-serveErr; err != nil {
			log.Error("HTTP server failed", "error", err)
			stopWait(err)
		}
	}()

	if err := sd.Wait(waitCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	if cause := context.Cause(waitCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	log.Info("server stopped gracefully")
	return nil
}

// watchLogLevel applies log.level changes from the config file without a
// restart. Other settings need one.
func watchLogLevel(ctx context.Context, path string, log logger.Logger) {
	w := confloader.NewWatcher(path, logger.Slog(log))
	err := w.Run(ctx, func(string) {
		cfg, err := config.Load(path, nil)
		if err != nil {
			log.Warn("config reload failed", "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level changed", "level", cfg.Log.Level)
		}
	})
	if err != nil {
		log.Warn("config watcher stopped", "error", err)
	}
}
