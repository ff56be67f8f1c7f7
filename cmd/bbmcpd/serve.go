package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sigee-min/bbmcp-sub011/auth"
	"github.com/sigee-min/bbmcp-sub011/config"
	"github.com/sigee-min/bbmcp-sub011/editor"
	"github.com/sigee-min/bbmcp-sub011/editor/engine"
	"github.com/sigee-min/bbmcp-sub011/internal/dispatch"
	"github.com/sigee-min/bbmcp-sub011/internal/logctx"
	"github.com/sigee-min/bbmcp-sub011/internal/telemetry"
	"github.com/sigee-min/bbmcp-sub011/mcp"
	"github.com/sigee-min/bbmcp-sub011/mcpsession"
	sessredis "github.com/sigee-min/bbmcp-sub011/mcpsession/redisstore"
	"github.com/sigee-min/bbmcp-sub011/projlock"
	"github.com/sigee-min/bbmcp-sub011/projlock/memlock"
	"github.com/sigee-min/bbmcp-sub011/projlock/redislock"
	"github.com/sigee-min/bbmcp-sub011/projstore"
	"github.com/sigee-min/bbmcp-sub011/projstore/memstore"
	projredis "github.com/sigee-min/bbmcp-sub011/projstore/redisstore"
	"github.com/sigee-min/bbmcp-sub011/projstore/sqlitestore"
	"github.com/sigee-min/bbmcp-sub011/streamhttp"
	"github.com/sigee-min/bbmcp-sub011/tools"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath    string
		listen        string
		metricsListen string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if metricsListen != "" {
				cfg.MetricsListen = metricsListen
			}
			return serve(cmd.Context(), cfg, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config overlay")
	cmd.Flags().StringVar(&listen, "listen", "", "MCP listen address (overrides config)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "telemetry listen address (overrides config)")
	return cmd
}

// projectStore is what the engine needs from a storage backend: snapshots
// plus raw texture payloads.
type projectStore interface {
	projstore.ProjectRepository
	projstore.BlobStore
}

func serve(parent context.Context, cfg *config.Config, configPath string) error {
	level := new(slog.LevelVar)
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})})

	watcher := config.NewWatcher(cfg, configPath, log, level)
	mut := watcher.Mutable()

	metrics := telemetry.New()

	store, closeStore, err := openProjectStore(parent, cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	metrics.SetStoreReady(cfg.ProjectStore, true)

	locks, err := openLockManager(cfg)
	if err != nil {
		return err
	}

	sessions, runSessions, err := openSessionStore(cfg, metrics)
	if err != nil {
		return err
	}

	eng := engine.New(
		engine.WithLogger(log),
		engine.WithRepository(store),
		engine.WithBlobStore(store),
	)

	registry := tools.NewRegistry(tools.Blockbench(tools.Limits{
		MaxNameLength:       mut.MaxNameLength,
		MaxKeyframesPerCall: mut.MaxKeyframesPerCall,
		MaxTextureBytes:     mut.MaxTextureBytes,
	})...)

	dispatcher := dispatch.New(registry,
		dispatch.WithBackend(editor.BackendEngine, eng),
		dispatch.WithLockManager(locks, mut.LockTTL),
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(log),
	)

	handlerOpts := []streamhttp.Option{
		streamhttp.WithPath(cfg.Path),
		streamhttp.WithMaxBodyBytes(mut.MaxBodyBytes),
		streamhttp.WithLogger(log),
		streamhttp.WithMetrics(metrics),
		streamhttp.WithServerInfo(mcp.Implementation{
			Name:    "bbmcpd",
			Title:   "Blockbench MCP server",
			Version: version,
		}),
		streamhttp.WithInstructions("Call ensure_project before editing. Every mutating tool " +
			"needs the ifRevision observed in the previous response; on invalid_state follow " +
			"the error's fix hint."),
	}
	authenticator, err := buildAuthenticator(parent, cfg, log)
	if err != nil {
		return err
	}
	if authenticator != nil {
		handlerOpts = append(handlerOpts, streamhttp.WithAuthenticator(authenticator))
	}
	if cfg.AuthMode == "oidc" {
		handlerOpts = append(handlerOpts, streamhttp.WithAuthorizationServers(cfg.OIDCIssuer))
	}
	handler := streamhttp.New(dispatcher, sessions, handlerOpts...)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	mcpServer := &http.Server{Addr: cfg.Listen, Handler: handler}
	g.Go(func() error {
		log.InfoContext(ctx, "serve.listen", slog.String("addr", cfg.Listen), slog.String("path", cfg.Path))
		if err := mcpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return mcpServer.Shutdown(shutCtx)
	})

	if cfg.MetricsListen != "" {
		telemetryServer := telemetry.NewServer(cfg.MetricsListen, metrics)
		g.Go(func() error {
			log.InfoContext(ctx, "serve.telemetry.listen", slog.String("addr", cfg.MetricsListen))
			if err := telemetryServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return telemetryServer.Shutdown(shutCtx)
		})
	}

	if runSessions != nil {
		g.Go(func() error { return runSessions(ctx) })
	}
	if configPath != "" {
		g.Go(func() error { return watcher.Run(ctx) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("serve.stopped")
	return nil
}

func openProjectStore(ctx context.Context, cfg *config.Config) (projectStore, func() error, error) {
	switch cfg.ProjectStore {
	case "memory":
		return memstore.New(), nil, nil
	case "sqlite":
		st, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite project store: %w", err)
		}
		return st, st.Close, nil
	case "redis":
		st, err := projredis.New(projredis.Config{RedisAddr: cfg.RedisAddr})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis project store: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown project store %q", cfg.ProjectStore)
	}
}

func openLockManager(cfg *config.Config) (projlock.Manager, error) {
	switch cfg.LockBackend {
	case "memory":
		return memlock.New(), nil
	case "redis":
		m, err := redislock.New(redislock.Config{RedisAddr: cfg.RedisAddr})
		if err != nil {
			return nil, fmt.Errorf("open redis lock manager: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}

func openSessionStore(cfg *config.Config, metrics *telemetry.Metrics) (mcpsession.Store, func(context.Context) error, error) {
	switch cfg.SessionStore {
	case "memory":
		ms := mcpsession.NewMemoryStore(mcpsession.WithGauge(metrics))
		return ms, ms.Run, nil
	case "redis":
		st, err := sessredis.New(sessredis.Config{RedisAddr: cfg.RedisAddr})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis session store: %w", err)
		}
		return st, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

func buildAuthenticator(ctx context.Context, cfg *config.Config, log *slog.Logger) (auth.Authenticator, error) {
	switch cfg.AuthMode {
	case "none":
		return nil, nil
	case "static":
		return auth.NewStatic(cfg.BearerToken), nil
	case "oidc":
		a, err := auth.NewOIDC(ctx, auth.OIDCConfig{
			Issuer:         cfg.OIDCIssuer,
			Audience:       cfg.OIDCAudience,
			RequiredScopes: strings.Fields(cfg.OIDCScopes),
			JWKSURI:        cfg.OIDCJWKSURI,
			Logger:         log,
		})
		if err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}
