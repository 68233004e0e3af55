package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/botgateio/botgate/internal/channel"
	"github.com/botgateio/botgate/internal/channel/adapters/discord"
	"github.com/botgateio/botgate/internal/channel/adapters/slack"
	"github.com/botgateio/botgate/internal/channel/adapters/telegram"
	"github.com/botgateio/botgate/internal/channel/adapters/wecom"
	"github.com/botgateio/botgate/internal/config"
	"github.com/botgateio/botgate/internal/delivery"
	"github.com/botgateio/botgate/internal/gateway"
	"github.com/botgateio/botgate/internal/logger"
	"github.com/botgateio/botgate/internal/server"
	"github.com/botgateio/botgate/internal/streambuf"
	"github.com/botgateio/botgate/internal/upstream"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStreamStore,
			provideSweeper,
			provideConfigStore,
			provideRegistry,
			provideResponder,
			provideDeliverer,
			provideProcessor,
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideHealthHandler),
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startProcessor,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStreamStore() streambuf.Store {
	return streambuf.NewMemoryStore()
}

func provideSweeper(log *slog.Logger, store streambuf.Store, cfg config.Config) *streambuf.Sweeper {
	ttl := time.Duration(cfg.Gateway.StreamTTLSeconds) * time.Second
	return streambuf.NewSweeper(log, store, ttl)
}

func provideConfigStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (channel.ConfigStore, error) {
	if !cfg.Postgres.Enabled() {
		log.Warn("postgres not configured, channel configs are held in memory")
		return channel.NewMemoryConfigStore(), nil
	}
	pool, err := channel.OpenPool(context.Background(), cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return channel.NewStore(log, pool), nil
}

func provideRegistry(log *slog.Logger, streams streambuf.Store) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.NewTelegramAdapter(log))
	registry.MustRegister(wecom.NewRobotAdapter(log))
	registry.MustRegister(wecom.NewSmartBotAdapter(log, streams))
	registry.MustRegister(wecom.NewAppAdapter(log))
	registry.MustRegister(slack.NewSlackAdapter(log))
	registry.MustRegister(discord.NewDiscordAdapter(log))
	return registry
}

func provideResponder(log *slog.Logger, cfg config.Config) upstream.Responder {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	return upstream.NewHTTPResponder(log, cfg.Upstream.BaseURL, timeout)
}

func provideDeliverer(log *slog.Logger, registry *channel.Registry) *delivery.Deliverer {
	return delivery.NewDeliverer(log, registry)
}

func provideProcessor(log *slog.Logger, responder upstream.Responder, deliverer *delivery.Deliverer, cfg config.Config) *gateway.Processor {
	return gateway.NewProcessor(log, responder, deliverer, cfg.Gateway.Workers, cfg.Gateway.QueueSize)
}

func provideWebhookHandler(log *slog.Logger, store channel.ConfigStore, registry *channel.Registry, streams streambuf.Store, processor *gateway.Processor) *gateway.WebhookHandler {
	return gateway.NewWebhookHandler(log, store, registry, streams, processor)
}

func provideHealthHandler() *gateway.HealthHandler {
	return gateway.NewHealthHandler()
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startSweeper(lc fx.Lifecycle, sweeper *streambuf.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeper.Start() },
		OnStop:  func(ctx context.Context) error { sweeper.Stop(); return nil },
	})
}

func startProcessor(lc fx.Lifecycle, processor *gateway.Processor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { processor.Start(); return nil },
		OnStop:  func(ctx context.Context) error { processor.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
