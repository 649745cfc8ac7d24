package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amoylab/gameroom/internal/auth"
	"github.com/amoylab/gameroom/internal/auth/jwt"
	"github.com/amoylab/gameroom/internal/common/config"
	"github.com/amoylab/gameroom/internal/core"
	"github.com/amoylab/gameroom/internal/rules"
	"github.com/amoylab/gameroom/internal/session"
	"github.com/amoylab/gameroom/internal/transport"
	"github.com/amoylab/gameroom/pkg/helper"
	"github.com/amoylab/gameroom/pkg/logger"
	"github.com/amoylab/gameroom/pkg/metrics"
	"github.com/amoylab/gameroom/pkg/trace"
	"github.com/amoylab/gameroom/pkg/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// app holds the wired components of a running server
type app struct {
	cfg        *config.GameRoomConfig
	logger     *zap.Logger
	store      session.Store
	tokens     *jwt.Service
	hub        *transport.Hub
	relay      *transport.RedisRelay
	controller *core.Controller
	sweeper    *core.Sweeper
	server     *transport.Server
}

func loadConfig() (*config.GameRoomConfig, *zap.Logger, error) {
	cfg, path, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration %s: %w", path, err)
	}
	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	lg.Info("Loaded configuration", zap.String("path", path))
	return cfg, lg, nil
}

func newTokenService(cfg config.JWTConfig) (*jwt.Service, error) {
	return jwt.NewService(jwt.Config{SecretKey: cfg.SecretKey, Duration: cfg.Duration})
}

// newApp wires every component from cfg without starting anything
func newApp(cfg *config.GameRoomConfig, lg *zap.Logger) (*app, error) {
	store, err := session.NewStore(lg, &cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	engine, err := rules.New(cfg.Rules.Engine)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	tokens, err := newTokenService(cfg.JWT)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create token service: %w", err)
	}
	verifier := auth.NewJWTVerifier(tokens)

	var (
		gauge    transport.Gauge
		opts     []core.Option
		recorder transport.Metrics
	)
	if cfg.Metrics.Enabled {
		m := metrics.New(cfg.Metrics)
		gauge = m.Connections()
		opts = append(opts, core.WithMetrics(m))
		recorder = m
	}

	hub := transport.NewHub(lg, gauge)
	var (
		emitter core.Emitter = hub
		relay   *transport.RedisRelay
	)
	if cfg.Store.Type == "redis" {
		// instances sharing the store reach each other's clients through redis
		relay, err = transport.NewRedisRelay(lg, cfg.Store.Redis, hub)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("create event relay: %w", err)
		}
		emitter = relay
	}
	controller := core.NewController(lg, store, engine, emitter, cfg.Lifecycle, opts...)

	gin.SetMode(gin.ReleaseMode)
	router := transport.NewRouter(transport.RouterDeps{
		Logger:    lg,
		Config:    cfg,
		Verifier:  verifier,
		Sessions:  transport.NewSessionHandler(lg, controller, hub, cfg.Lifecycle.IdleTimeout),
		WebSocket: transport.NewWebSocketHandler(lg, hub, controller, verifier, cfg.Server),
		Metrics:   recorder,
	})

	return &app{
		cfg:        cfg,
		logger:     lg,
		store:      store,
		tokens:     tokens,
		hub:        hub,
		relay:      relay,
		controller: controller,
		sweeper:    core.NewSweeper(controller, lg, cfg.Lifecycle),
		server:     transport.NewServer(lg, hub, router, cfg.Server.Port),
	}, nil
}

// close releases the relay and the store
func (a *app) close() error {
	var errs []error
	if a.relay != nil {
		errs = append(errs, a.relay.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, lg, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		lg.Warn("Tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	a, err := newApp(cfg, lg)
	if err != nil {
		lg.Error("Failed to start", zap.Error(err))
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			lg.Warn("Failed to close session store", zap.Error(err))
		}
	}()

	pidFile := helper.GetPIDPath(cfg.Server.PIDFile)
	if err := helper.WritePID(pidFile); err != nil {
		lg.Warn("Failed to write PID file", zap.String("path", pidFile), zap.Error(err))
	} else {
		defer func() { _ = os.Remove(pidFile) }()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.sweeper.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()
	lg.Info("Started gameroom",
		zap.String("version", version.Get()),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Type))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		select {
		case err := <-errCh:
			a.sweeper.Stop()
			if err != nil {
				lg.Error("Server stopped", zap.Error(err))
			}
			return err
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				reclaimed, purged, err := a.sweeper.SweepOnce(ctx)
				lg.Info("Sweep requested by signal",
					zap.Int("reclaimed", reclaimed),
					zap.Int("purged", purged),
					zap.Error(err))
				continue
			}

			lg.Info("Shutting down", zap.String("signal", sig.String()))
			a.sweeper.Stop()
			shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				lg.Error("Failed to shutdown server", zap.Error(err))
			}
			if err := shutdownTracing(shutdownCtx); err != nil {
				lg.Warn("Failed to flush traces", zap.Error(err))
			}
			done()
			return nil
		}
	}
}

func runToken(w io.Writer, identity, name string, ttl time.Duration) error {
	cfg, _, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	jwtCfg := cfg.JWT
	if ttl > 0 {
		jwtCfg.Duration = ttl
	}
	tokens, err := newTokenService(jwtCfg)
	if err != nil {
		return err
	}
	if name == "" {
		name = identity
	}
	tok, err := tokens.GenerateToken(identity, name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}

func runSweep(ctx context.Context, w io.Writer, viaSignal bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, lg, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	if viaSignal {
		pidFile := helper.GetPIDPath(cfg.Server.PIDFile)
		if err := helper.SignalPID(pidFile, syscall.SIGUSR1); err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "sweep requested from process in %s\n", pidFile)
		return err
	}

	a, err := newApp(cfg, lg)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	reclaimed, purged, err := a.sweeper.SweepOnce(ctx)
	if _, werr := fmt.Fprintf(w, "reclaimed %d, purged %d\n", reclaimed, purged); werr != nil {
		return werr
	}
	return err
}
