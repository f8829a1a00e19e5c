package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"wabot/internal/bus"
	"wabot/internal/command"
	"wabot/internal/config"
	"wabot/internal/contacts"
	"wabot/internal/domain"
	"wabot/internal/envelope"
	"wabot/internal/history"
	"wabot/internal/media"
	"wabot/internal/metrics"
	"wabot/internal/transport"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "wabot",
		Short: "wabot: message normalization and media dispatch engine",
		Long:  "wabot normalizes chat protocol events into a bounded context cache and dispatches outbound media.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.wabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("wabot " + version)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine, reading newline-delimited event JSON on stdin",
		Long:  "Starts the dispatcher against a loopback transport. Each stdin line is one raw protocol event; sends are printed to stdout.",
		RunE:  runEngine,
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := bus.New(cfg.General.BusBuffer, logger)
	defer eventBus.Close()

	loop := transport.NewLoopback(transport.LoopbackConfig{
		Logger: logger,
		SelfID: cfg.General.SelfID,
	})

	var names history.Namer
	if cfg.Contacts.Enabled {
		store, err := contacts.NewSQLiteStore(cfg.Contacts.DBPath, logger)
		if err != nil {
			return fmt.Errorf("contacts store: %w", err)
		}
		defer store.Close()
		names = store
	}

	cache := history.NewCache(history.CacheConfig{
		HighWater:   cfg.Cache.HighWater,
		RetainCount: cfg.Cache.RetainCount,
		Meta:        loop,
		Names:       names,
		Logger:      logger,
	})

	spec, err := cfg.Command.Spec()
	if err != nil {
		return err
	}

	pipeline := media.NewPipeline(media.PipelineConfig{
		MaxBytes: cfg.Media.MaxBytes,
		Logger:   logger,
	})
	resolver := &envelope.Resolver{Transport: loop, Store: cache}

	dispatcher := bus.NewDispatcher(bus.DispatcherConfig{
		Bus:    eventBus,
		Cache:  cache,
		Spec:   spec,
		SelfID: cfg.General.SelfID,
		Logger: logger,
	})
	registerHandlers(dispatcher, loop, cache, pipeline, resolver, cfg)

	go dispatcher.Run(ctx)

	if cfg.General.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
		srv := &http.Server{Addr: cfg.General.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		logger.Info("metrics endpoint enabled", "addr", cfg.General.MetricsAddr)
	}

	logger.Info("engine started, reading events from stdin", "prefixes", cfg.Command.Prefixes)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		eventBus.Publish(bus.Event{Source: "stdin", Data: []byte(line)})
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	logger.Info("stdin closed, shutting down")
	return nil
}

// registerHandlers wires the built-in commands.
func registerHandlers(d *bus.Dispatcher, loop *transport.Loopback, cache *history.Cache, pipeline *media.Pipeline, resolver *envelope.Resolver, cfg *config.Config) {
	d.Handle("ping", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		key := env.Key
		_, err := loop.Send(ctx, &domain.SendRequest{
			ChatID:    env.ChatID(),
			Kind:      domain.KindText,
			Caption:   "pong",
			QuotedKey: &key,
		})
		return err
	})

	d.Handle("send", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		if len(res.Args) == 0 {
			return fmt.Errorf("usage: send <url-or-path> [caption...]")
		}
		_, err := pipeline.SendFile(ctx, loop, env.ChatID(),
			media.FromRef(res.Args[0]),
			media.Options{Caption: strings.Join(res.Args[1:], " ")})
		return err
	})

	d.Handle("sticker", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		if len(res.Args) == 0 {
			return fmt.Errorf("usage: sticker <url-or-path>")
		}
		_, err := pipeline.SendFile(ctx, loop, env.ChatID(),
			media.FromRef(res.Args[0]),
			media.Options{
				AsSticker: true,
				Sticker: domain.StickerMeta{
					PackName: cfg.Media.StickerPackName,
					Author:   cfg.Media.StickerAuthor,
				},
			})
		return err
	})

	d.Handle("quoted", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		q := resolver.Resolve(env)
		if q == nil {
			_, err := loop.Send(ctx, &domain.SendRequest{
				ChatID: env.ChatID(), Kind: domain.KindText, Caption: "not a reply",
			})
			return err
		}
		_, err := resolver.Reply(ctx, q, "you quoted: "+q.Text())
		return err
	})

	d.Handle("history", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		msgs := cache.Messages(env.ChatID())
		var b strings.Builder
		fmt.Fprintf(&b, "%d cached messages\n", len(msgs))
		for _, m := range msgs {
			if t := m.Text(); t != "" {
				fmt.Fprintf(&b, "  [%s] %s: %s\n", m.Key.ID, m.PushName, t)
			}
		}
		_, err := loop.Send(ctx, &domain.SendRequest{
			ChatID: env.ChatID(), Kind: domain.KindText, Caption: b.String(),
		})
		return err
	})
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
