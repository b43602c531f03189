package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/peoplehub/internal/api"
	"github.com/kiranshivaraju/peoplehub/internal/api/handler"
	mw "github.com/kiranshivaraju/peoplehub/internal/api/middleware"
	"github.com/kiranshivaraju/peoplehub/internal/cache"
	"github.com/kiranshivaraju/peoplehub/internal/config"
	"github.com/kiranshivaraju/peoplehub/internal/lifecycle"
	"github.com/kiranshivaraju/peoplehub/internal/notify"
	"github.com/kiranshivaraju/peoplehub/internal/reconcile"
	"github.com/kiranshivaraju/peoplehub/internal/store"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// app is the wired object graph shared by the serve and reconcile commands.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	store      store.Store
	cache      cache.Cache
	pool       *pgxpool.Pool
	dispatcher *notify.Dispatcher
	manager    *lifecycle.Manager
	resolver   *tenancy.Resolver
	reconciler *reconcile.Reconciler
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openCache(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.dispatcher = notify.NewDispatcher(buildSink(cfg.Notify, log), notify.DispatcherConfig{
		QueueSize:   cfg.Notify.QueueSize,
		Workers:     cfg.Notify.Workers,
		SendTimeout: cfg.Notify.WebhookTimeout * 3,
	}, log.Named("notify"))

	a.resolver = tenancy.NewResolver(a.store,
		tenancy.WithLogger(log.Named("tenancy")),
		tenancy.WithCache(a.cache, cfg.Tenancy.CacheTTL),
		tenancy.WithLookupTimeout(cfg.Tenancy.LookupTimeout),
	)
	a.manager = lifecycle.NewManager(a.store,
		lifecycle.WithLogger(log.Named("lifecycle")),
		lifecycle.WithPublisher(a.dispatcher),
		lifecycle.WithInvalidator(a.resolver),
		lifecycle.WithDefaults(cfg.Trial.DefaultDays, lifecycle.DefaultPlan()),
	)
	a.reconciler = reconcile.NewReconciler(a.store, a.manager, notify.NewLedger(a.cache), reconcile.Config{
		Concurrency:   cfg.Reconcile.Concurrency,
		TenantTimeout: cfg.Reconcile.TenantTimeout,
		ReminderDays:  cfg.Trial.ReminderDays,
	}, log.Named("reconcile"))

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DriverMemory:
		a.log.Warn("using in-memory store; data is lost on restart")
		a.store = store.NewMemoryStore()
		return nil
	default:
		pool, err := store.Connect(ctx, a.cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		a.pool = pool
		a.log.Info("database connected")

		if err := store.RunMigrations(a.cfg.Database.URL, a.cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		a.log.Info("database migrations applied")

		a.store = store.NewPostgresStore(pool)
		return nil
	}
}

func (a *app) openCache(ctx context.Context) error {
	if a.cfg.Redis.URL == "" {
		a.log.Warn("REDIS_URL not set; using in-process cache, rate limits and reminder dedup are per instance")
		a.cache = cache.NewMemoryCache(0)
		return nil
	}

	rc, err := cache.NewRedisCache(a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	a.cache = rc
	if err := rc.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	a.log.Info("redis connected")
	return nil
}

// buildSink fans notifications out to the log and whichever of webhook and
// mail are configured.
func buildSink(cfg config.NotifyConfig, log *zap.Logger) notify.Sink {
	sinks := notify.MultiSink{notify.NewLogSink(log.Named("events"))}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL, cfg.WebhookTimeout))
	}
	if cfg.SMTP.Host != "" {
		sinks = append(sinks, notify.NewMailSink(cfg.SMTP, cfg.MailTo))
	}
	return sinks
}

// dependencies returns the router dependencies. Health and metrics are left
// to the caller.
func (a *app) dependencies() api.Dependencies {
	keys := handler.NewKeysHandler(a.store, bcrypt.DefaultCost)
	tenants := handler.NewTenantsHandler(a.manager)

	return api.Dependencies{
		Logger:    a.log,
		Auth:      mw.NewAuth(a.store, a.log),
		Tenancy:   mw.NewTenancy(a.resolver, a.log),
		RateLimit: mw.NewRateLimit(a.cache, a.cfg.Server.RateLimitPerMinute, a.log),

		StatusHandler:       handler.NewStatusHandler(a.manager.Now),
		EntitlementsHandler: handler.NewEntitlementsHandler(a.store),
		CreateKeyHandler:    keys.Create,
		ListKeysHandler:     keys.List,
		RevokeKeyHandler:    keys.Revoke,

		CreateTenantHandler:   tenants.Create,
		DeleteTenantHandler:   tenants.Delete,
		ActivateTenantHandler: tenants.Activate,
		ExtendTenantHandler:   tenants.Extend,
		ReconcileHandler:      handler.NewReconcileHandler(a.reconciler, a.manager.Now),
	}
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("close cache", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
