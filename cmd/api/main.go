package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"telecom-dialer/internal/ami"
	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/campaigns"
	"telecom-dialer/internal/config"
	"telecom-dialer/internal/httpapi"
	"telecom-dialer/internal/metrics"
	"telecom-dialer/internal/monitor"
	"telecom-dialer/internal/reporting"
	"telecom-dialer/internal/storage"
	"telecom-dialer/internal/telephony"
	"telecom-dialer/pkg/logger"
	"telecom-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log, logCloser := logger.New(cfg.App.Env, logger.Options{File: cfg.App.LogFile})
	slog.SetDefault(log)
	defer logCloser.Close()

	if err := serve(cfg, log); err != nil {
		log.Error("dialer exited", "err", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

// backends are the optional persistence and coordination layers.
type backends struct {
	store     campaigns.Store
	reports   reporting.Repository
	audit     audit.Repository
	publisher campaigns.Publisher
	limiter   campaigns.Limiter
	live      httpapi.LiveFeed
	closers   []io.Closer
}

func openBackends(ctx context.Context, cfg config.Config, log *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.HasDB() {
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{StartupWait: 30 * time.Second})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db)
		if err := storage.Migrate(ctx, db); err != nil {
			return b, err
		}
		pg := storage.NewPostgres(db)
		b.store, b.reports, b.audit = pg, pg, pg
		log.Info("postgres storage enabled")
	} else {
		mem := storage.NewMemory()
		b.store, b.reports, b.audit = mem, mem, audit.NewMemoryRepo()
		log.Warn("DB_HOST not set, campaigns are kept in memory")
	}

	if cfg.HasRedis() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), StartupWait: 30 * time.Second})
		if err != nil {
			return b, err
		}
		b.closers = append(b.closers, rdb)
		pub, err := monitor.NewPublisher(rdb)
		if err != nil {
			return b, err
		}
		b.publisher = pub
		b.live = func(ctx context.Context, tenantID string) (<-chan monitor.Update, error) {
			return monitor.Subscribe(ctx, rdb, tenantID)
		}
		if cfg.Dialer.TrunkMaxChannels > 0 {
			lim, err := monitor.NewTrunkLimiter(rdb, cfg.Dialer.TrunkMaxChannels, cfg.Dialer.TrunkSlotTTL)
			if err != nil {
				return b, err
			}
			b.limiter = lim
			log.Info("trunk channel cap enabled", "max_channels", cfg.Dialer.TrunkMaxChannels)
		}
	}
	return b, nil
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i].Close()
	}
}

func serve(cfg config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, log)
	if b != nil {
		defer b.Close()
	}
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	session := ami.NewSession(ami.Config{
		Addr:           cfg.AMIAddr(),
		Username:       cfg.AMI.Username,
		Secret:         cfg.AMI.Secret,
		ConnectTimeout: cfg.AMI.ConnectTimeout,
	}, log)
	met.WatchSession(session)
	provider := telephony.NewAMIProvider(session, cfg.AMI.ActionTimeout, log)

	engine := campaigns.NewEngine(campaigns.Options{
		Dispatcher:         provider,
		Store:              b.store,
		Publisher:          b.publisher,
		Limiter:            b.limiter,
		Recorder:           met,
		Logger:             log,
		Grace:              cfg.Dialer.Grace,
		DefaultCallTimeout: cfg.Dialer.DefaultCallTimeout,
	})
	defer engine.Close()

	sub := session.Subscribe(campaigns.TrackedEvents...)
	defer sub.Close()
	defer session.Close()

	supervisor := &telephony.Supervisor{
		Session:    session,
		Log:        log,
		OnLost:     func() { engine.MarkConnectionLost() },
		OnRestored: engine.Restore,
	}
	watchdog := &campaigns.Watchdog{Engine: engine, Interval: cfg.Dialer.WatchdogInterval, Log: log}

	srv := &http.Server{
		Addr: cfg.HTTPAddr(),
		Handler: newRouter(routerDeps{
			log:     log,
			metrics: met,
			auth:    authManager,
			engine:  engine,
			report:  reporting.NewService(b.reports),
			audit:   audit.NewService(b.audit),
			session: session,
			channel: provider,
			live:    b.live,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	g.Add(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 20*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
	})
	{
		actorCtx, stop := context.WithCancel(ctx)
		g.Add(func() error { return supervisor.Run(actorCtx) }, func(error) { stop() })
	}
	{
		actorCtx, stop := context.WithCancel(ctx)
		g.Add(func() error { return watchdog.Run(actorCtx) }, func(error) { stop() })
	}
	{
		actorCtx, stop := context.WithCancel(ctx)
		g.Add(func() error { return engine.Consume(actorCtx, sub) }, func(error) { stop() })
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Info("shutdown initiated", "signal", sig.Signal.String())
		return nil
	}
	return err
}
