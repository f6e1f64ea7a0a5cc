package main

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/config"
	"github.com/fring-app/fring-core/eventbus"
	"github.com/fring-app/fring-core/events"
	"github.com/fring-app/fring-core/httpapi"
	"github.com/fring-app/fring-core/kvstore"
	"github.com/fring-app/fring-core/logging"
	"github.com/fring-app/fring-core/metrics"
	"github.com/fring-app/fring-core/modulemenu"
	"github.com/fring-app/fring-core/redis_client"
	"github.com/fring-app/fring-core/runtime"
)

// entryCounter forwards log-entry counts to the metrics service once it
// exists; entries logged before that are not counted.
type entryCounter struct {
	svc atomic.Pointer[metrics.Service]
}

func (c *entryCounter) IncrementCounter(name string, value float64, tags map[string]string) {
	if svc := c.svc.Load(); svc != nil {
		svc.IncrementCounter(name, value, tags)
	}
}

// app is one fringd process.
type app struct {
	cfg      config.AppConfig
	logger   *zap.Logger
	registry *events.Registry
	rt       *runtime.Runtime
	counter  *entryCounter

	redis       *redis.Client
	store       kvstore.Store
	broadcaster eventbus.Broadcaster
	bus         *eventbus.Bus
	metrics     *metrics.Service
	tap         eventbus.Subscription
	coord       *modulemenu.Coordinator
	server      *httpapi.Server
}

func newApp(cfg config.AppConfig, logger *zap.Logger, counter *entryCounter) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: events.DefaultRegistry(),
		rt:       runtime.New(logging.Component(logger, "runtime")),
		counter:  counter,
	}

	var busDeps, storeDeps []string
	if cfg.NeedsRedis() {
		if cfg.EventBus.Broadcast == eventbus.DriverRedis {
			busDeps = append(busDeps, "redis")
		}
		if cfg.Storage.Driver == kvstore.DriverRedis {
			storeDeps = append(storeDeps, "redis")
		}
	}

	components := []*runtime.Func{
		{ID: "store", Requires: storeDeps, OnStart: a.startStore},
		{ID: "eventbus", Requires: busDeps, OnStart: a.startBus, OnStop: a.stopBus},
		{ID: "metrics", Requires: []string{"eventbus"}, OnStart: a.startMetrics, OnStop: a.stopMetrics},
		{ID: "coordinator", Requires: []string{"eventbus", "store"}, OnStart: a.startCoordinator, OnStop: a.stopCoordinator},
		{ID: "http", Requires: []string{"coordinator", "metrics"}, OnStart: a.startHTTP, OnStop: a.stopHTTP},
	}
	if cfg.NeedsRedis() {
		components = append(components, &runtime.Func{
			ID:      "redis",
			OnStart: a.startRedis,
			OnStop:  a.stopRedis,
			Check:   a.pingRedis,
		})
	}
	for _, c := range components {
		if err := a.rt.Register(c); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Start(ctx context.Context) error {
	return a.rt.Start(ctx)
}

func (a *app) Shutdown(ctx context.Context) error {
	return a.rt.Shutdown(ctx)
}

// Reload applies the settings that can change without a restart.
func (a *app) Reload(cfg config.AppConfig) {
	if a.bus != nil {
		a.bus.SetDebug(cfg.EventBus.Debug)
		a.bus.SetMaxHistorySize(cfg.EventBus.MaxHistory)
	}
	if a.coord != nil && cfg.Coordinator.SessionUser != a.cfg.Coordinator.SessionUser {
		a.coord.SetSessionUser(cfg.Coordinator.SessionUser)
	}
	a.cfg = cfg
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := redis_client.NewRedis(ctx, a.cfg.Redis, logging.Component(a.logger, "redis"))
	if err != nil {
		return err
	}
	a.redis = client
	return nil
}

func (a *app) stopRedis(context.Context) error {
	return a.redis.Close()
}

func (a *app) pingRedis(ctx context.Context) error {
	return a.redis.Ping(ctx).Err()
}

func (a *app) startStore(context.Context) error {
	store, err := kvstore.Open(a.cfg.Storage, a.redis, a.cfg.Redis.KeyPrefix)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

func (a *app) startBus(context.Context) error {
	logger := logging.Component(a.logger, "eventbus")
	br, err := eventbus.OpenBroadcaster(a.cfg.EventBus, a.redis, a.cfg.RabbitMQ, a.registry, logger)
	if err != nil {
		return err
	}
	a.broadcaster = br
	a.bus = eventbus.New(logger, a.cfg.EventBus.Options(br)...)
	a.bus.Chain().AddMiddleware(eventbus.LoggingMiddleware(logger))
	return nil
}

func (a *app) stopBus(context.Context) error {
	err := a.bus.Close()
	if a.broadcaster != nil {
		err = stderrors.Join(err, a.broadcaster.Close())
	}
	return err
}

func (a *app) startMetrics(context.Context) error {
	svc := metrics.NewService(a.cfg.Metrics, a.bus, logging.Component(a.logger, "metrics"))
	a.metrics = svc
	a.counter.svc.Store(svc)
	a.bus.Chain().AddMiddleware(metrics.DeliveryMiddleware(svc))
	a.tap = svc.AttachGatewayTap(a.bus)
	return svc.Start()
}

func (a *app) stopMetrics(ctx context.Context) error {
	a.metrics.Stop()
	a.metrics.ReportMetrics(ctx)
	a.tap.Unsubscribe()
	a.counter.svc.Store(nil)
	return nil
}

func (a *app) startCoordinator(ctx context.Context) error {
	a.coord = modulemenu.New(ctx, a.cfg.Coordinator, a.bus, a.store, logging.Component(a.logger, "modulemenu"))
	return nil
}

func (a *app) stopCoordinator(context.Context) error {
	a.coord.Close()
	return nil
}

func (a *app) startHTTP(context.Context) error {
	a.server = httpapi.New(a.cfg.HTTP, httpapi.Deps{
		Bus:         a.bus,
		Coordinator: a.coord,
		Metrics:     a.metrics,
		Registry:    a.registry,
		Prometheus:  metrics.Handler(metrics.NewRegistry(a.metrics, a.cfg.Metrics.Namespace)),
		Health:      a.rt.Health,
		Logger:      logging.Component(a.logger, "http"),
	})
	return a.server.Start()
}

func (a *app) stopHTTP(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// runServe loads the configuration, starts every component and blocks until
// ctx is cancelled.
func runServe(ctx context.Context, opts config.Options) error {
	loader, err := config.Load(opts)
	if err != nil {
		return err
	}
	defer loader.Close()
	cfg := loader.Config()

	counter := &entryCounter{}
	logger := logging.Init(cfg.Log, logging.CountingHook(counter))
	defer logging.CloseAllWriters()
	defer logger.Sync()

	logger.Info("fringd starting",
		zap.String("version", version),
		zap.String("env", string(opts.Mode)),
		zap.Strings("config_files", loader.Files()))

	a, err := newApp(cfg, logger, counter)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		logger.Error("fringd failed to start", zap.Error(err))
		return err
	}

	if err := loader.Watch(logger, a.Reload); err != nil {
		logger.Debug("config watch disabled", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("fringd stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+5*time.Second)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}
