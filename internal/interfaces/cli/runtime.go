package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	appbilling "github.com/billsync/backend/internal/application/billing"
	domainBilling "github.com/billsync/backend/internal/domain/billing"
	infraBilling "github.com/billsync/backend/internal/infrastructure/billing"
	"github.com/billsync/backend/internal/infrastructure/cache"
	"github.com/billsync/backend/internal/infrastructure/config"
	"github.com/billsync/backend/internal/infrastructure/logger"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/telemetry"
)

// GlobalOptions are the flags shared by every command
type GlobalOptions struct {
	ConfigPath string
	Verbose    bool
}

// Runtime holds the services a command runs against and the resources to
// release once it finishes.
type Runtime struct {
	Services *appbilling.Services
	Logger   *zap.Logger

	closers []func(context.Context) error
}

// NewRuntime wraps already built services. Closers run in reverse order.
func NewRuntime(services *appbilling.Services, log *zap.Logger, closers ...func(context.Context) error) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{Services: services, Logger: log, closers: closers}
}

// Close releases every resource opened for the runtime
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i](ctx))
	}
	r.closers = nil
	_ = r.Logger.Sync()
	return errors.Join(errs...)
}

func (r *Runtime) onClose(fn func(context.Context) error) {
	r.closers = append(r.closers, fn)
}

// Opener builds the Runtime for one invocation
type Opener func(ctx context.Context, opts GlobalOptions) (*Runtime, error)

// Open loads configuration and connects the database, the provider client
// and, when configured, telemetry export and the Redis read cache.
func Open(ctx context.Context, opts GlobalOptions) (*Runtime, error) {
	cfg, err := config.LoadFrom(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logCfg := &logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		Service:     cfg.App.Name,
		Environment: cfg.App.Env,
		Sample:      cfg.App.Env == "production",
	}
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}

	rt := NewRuntime(nil, log)
	if err := rt.connect(ctx, cfg); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) connect(ctx context.Context, cfg *config.Config) error {
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, r.Logger)
	if err != nil {
		return err
	}
	r.onClose(tp.Shutdown)

	metrics, err := telemetry.NewEngineMetrics(nil)
	if err != nil {
		return fmt.Errorf("failed to create engine metrics: %w", err)
	}

	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:   r.Logger,
		LogLevel: cfg.Log.Level,
		Tracing: telemetry.DBTracingConfig{
			Enabled:         cfg.Telemetry.DBTraceEnabled,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		},
	})
	if err != nil {
		return err
	}
	r.onClose(func(context.Context) error { return db.Close() })
	if cfg.Database.Driver == "sqlite" {
		if err := db.AutoMigrate(ctx); err != nil {
			return err
		}
	}

	stripeClient, err := infraBilling.NewStripeClient(&cfg.Stripe, r.Logger)
	if err != nil {
		return err
	}
	var client domainBilling.RemoteClient = stripeClient
	if cfg.Redis.Enabled() && cfg.Stripe.CacheTTL > 0 {
		rdb, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		r.onClose(func(context.Context) error { return rdb.Close() })
		client = cache.NewCachingClient(client, rdb, cfg.Stripe.CacheTTL, r.Logger)
	}

	services, err := appbilling.Bootstrap(db, client, appbilling.Config{
		DeleteCustomerOnDestroy: cfg.Sync.DeleteCustomerOnDestroy,
		DeleteProductOnDestroy:  cfg.Sync.DeleteProductOnDestroy,
		DefaultCurrency:         cfg.Stripe.DefaultCurrency,
		ProrationBehavior:       cfg.Stripe.Proration(),
	}, r.Logger, metrics)
	if err != nil {
		return err
	}
	r.Services = services
	return nil
}
