package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/illthorn/internal/api"
	"github.com/mattjoyce/illthorn/internal/config"
	"github.com/mattjoyce/illthorn/internal/mockserver"
	"github.com/mattjoyce/illthorn/internal/session"
	"github.com/mattjoyce/illthorn/internal/storage"
	"github.com/mattjoyce/illthorn/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	case "mock":
		err = runMock(os.Args[2:])
	case "parse":
		err = runParse(os.Args[2:], os.Stdin, os.Stdout)
	case "version":
		fmt.Printf("illthorn %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: illthorn <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  start     Start the illthorn service")
	fmt.Fprintln(os.Stderr, "  watch     Play a session in a TUI")
	fmt.Fprintln(os.Stderr, "  mock      Run a mock game server")
	fmt.Fprintln(os.Stderr, "  parse     Parse a markup capture and print tag records as JSON")
	fmt.Fprintln(os.Stderr, "  version   Print version")
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Service.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting illthorn", "version", version, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sessionStore := store.NewSessionStore(db)
	chunkStore := store.NewChunkStore(db)
	recorder := session.NewStoreRecorder(sessionStore, chunkStore, cfg.Sessions.PersistTranscript)

	manager := session.NewManager(session.Options{
		DialTimeout:     cfg.Sessions.DialTimeout,
		Linger:          cfg.Sessions.Linger,
		ReadBufferSize:  cfg.Sessions.ReadBufferSize,
		QueueCapacity:   cfg.Sessions.QueueCapacity,
		EnqueueTimeout:  cfg.Sessions.EnqueueTimeout,
		EventBuffer:     cfg.API.StreamBuffer,
		MaxPendingBytes: cfg.Parser.MaxPendingBytes,
	}, recorder, logger)
	defer manager.CloseAll()

	var transcripts api.Transcripts
	if cfg.Sessions.PersistTranscript {
		transcripts = recorder
	}
	srv := api.New(api.Config{
		Listen:                  cfg.API.Listen,
		Token:                   cfg.API.Token,
		DefaultHost:             cfg.Sessions.DefaultHost,
		DiscoveryDir:            cfg.Sessions.DiscoveryDir,
		DebugLogDir:             cfg.Sessions.DebugLogDir,
		StreamHeartbeatInterval: cfg.API.StreamHeartbeatInterval,
	}, manager, transcripts, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	if cfg.Sessions.WatchDiscovery {
		g.Go(func() error {
			return session.Watch(ctx, cfg.Sessions.DiscoveryDir, cfg.Sessions.DefaultHost, logger, func(found []session.Discovered) {
				connectDiscovered(ctx, manager, found, logger)
			})
		})
	}

	err = g.Wait()
	logger.Info("shutting down", "sessions", len(manager.List()))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// connectDiscovered connects every advertised session that is not live yet.
func connectDiscovered(ctx context.Context, manager *session.Manager, found []session.Discovered, logger *slog.Logger) {
	for _, d := range found {
		if _, err := manager.Get(d.Name); err == nil {
			continue
		}
		if _, err := manager.Connect(ctx, d.Config); err != nil {
			if !errors.Is(err, session.ErrSessionExists) {
				logger.Warn("auto-connect failed", "session", d.Name, "path", d.Path, "error", err)
			}
			continue
		}
		logger.Info("auto-connected discovered session", "session", d.Name, "path", d.Path)
	}
}

func runMock(args []string) error {
	fs := flag.NewFlagSet("mock", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (mock section supplies defaults)")
	listen := fs.String("listen", "127.0.0.1:5555", "address to listen on")
	replay := fs.String("replay", "", "markup file to replay to each client")
	interval := fs.Duration("interval", 50*time.Millisecond, "pause between replayed lines")
	logLevel := fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mockCfg := mockserver.Config{Listen: *listen, ReplayFile: *replay, ReplayInterval: *interval}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		mockCfg = mockserver.Config{
			Listen:         cfg.Mock.Listen,
			ReplayFile:     cfg.Mock.ReplayFile,
			ReplayInterval: cfg.Mock.ReplayInterval,
		}
		// Flags given explicitly win over the file.
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "listen":
				mockCfg.Listen = *listen
			case "replay":
				mockCfg.ReplayFile = *replay
			case "interval":
				mockCfg.ReplayInterval = *interval
			}
		})
	}

	logger := newLogger(*logLevel)
	srv, err := mockserver.New(mockCfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}
