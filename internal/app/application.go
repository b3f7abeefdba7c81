package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/cloudless/internal/app/async"
	"github.com/R3E-Network/cloudless/internal/app/auth"
	"github.com/R3E-Network/cloudless/internal/app/cache"
	"github.com/R3E-Network/cloudless/internal/app/core/service"
	"github.com/R3E-Network/cloudless/internal/app/domain/item"
	"github.com/R3E-Network/cloudless/internal/app/httpapi"
	"github.com/R3E-Network/cloudless/internal/app/metrics"
	"github.com/R3E-Network/cloudless/internal/app/services/catalog"
	"github.com/R3E-Network/cloudless/internal/app/storage"
	"github.com/R3E-Network/cloudless/internal/app/storage/postgres"
	"github.com/R3E-Network/cloudless/internal/app/system"
	"github.com/R3E-Network/cloudless/internal/app/transfer"
	"github.com/R3E-Network/cloudless/internal/app/validation"
	"github.com/R3E-Network/cloudless/internal/config"
	"github.com/R3E-Network/cloudless/internal/errors"
	"github.com/R3E-Network/cloudless/internal/logging"
	"github.com/R3E-Network/cloudless/internal/middleware"
)

// Application ties the registry, its services and their collaborators
// together and manages their lifecycle.
type Application struct {
	cfg      *config.Config
	manager  *system.Manager
	log      *logging.Logger
	registry *service.Registry
	handler  http.Handler

	db     *sqlx.DB
	redis  redis.UniversalClient
	runner *async.Runner
	audit  *httpapi.AuditLog
	sink   *httpapi.FileAuditSink

	Catalog *catalog.Service
}

// New builds the application from cfg: it opens the configured
// collaborators, registers every enabled service, runs each service's Init
// once and freezes the registry. Any failure is returned as a
// configuration error and nothing is left open.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *Application, err error) {
	if cfg == nil {
		return nil, errors.Configuration("configuration is required")
	}
	if log == nil {
		log = logging.NewDefault("app")
	}

	a := &Application{cfg: cfg, manager: system.NewManager(), log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	services, err := config.LoadServicesConfigOrDefault(cfg.ServicesFile)
	if err != nil {
		return nil, errors.Configurationf("load services config: %v", err)
	}

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	backend := storage.Backend{Driver: cfg.Storage.Driver, DB: a.db}

	itemCache, locker := a.buildCache()
	files, err := a.buildFileStore(ctx)
	if err != nil {
		return nil, err
	}

	a.runner = async.NewRunner(cfg.Async.Workers, log.Named("async"))
	if err := a.manager.Register(a.runner); err != nil {
		return nil, err
	}

	if a.sink, err = httpapi.NewFileAuditSink(cfg.Audit.File); err != nil {
		return nil, errors.Configurationf("open audit log %s: %v", cfg.Audit.File, err)
	}
	var sink httpapi.AuditSink
	if a.sink != nil {
		sink = a.sink
	}
	a.audit = httpapi.NewAuditLog(cfg.Audit.Size, sink)

	a.registry = service.NewRegistry(service.Options{
		AllowDraft:    cfg.AllowDraft,
		DraftServices: services.DraftServices(),
		Observers: []service.Observer{
			service.NewLogObserver(log.Named("registry")),
			metrics.MethodObserver(),
			a.audit,
		},
	})

	if services.Enabled(catalog.Name) {
		items, err := storage.NewTable(backend, item.Schema)
		if err != nil {
			return nil, errors.Configurationf("open %s: %v", item.Schema.Name(), err)
		}
		a.Catalog = catalog.New(items, catalog.Options{
			Locker:   locker,
			Cache:    itemCache,
			CacheTTL: cfg.Redis.CacheTTL,
			Runner:   a.runner,
			Files:    files,
			Codec:    codec(cfg.Files.Format),
			Logger:   log.Named(catalog.Name),
		})
		if err := a.Catalog.Register(a.registry); err != nil {
			return nil, err
		}
		if err := initService(ctx, catalog.Name, a.Catalog.Init); err != nil {
			return nil, err
		}
	} else {
		log.Warnf("service %s disabled by %s", catalog.Name, cfg.ServicesFile)
	}

	a.registry.Freeze()
	if err := a.registry.Validate(); err != nil {
		return nil, err
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log.Named("ratelimit"))
	if _, err := a.runner.Schedule("@every 5m", "ratelimit.cleanup", func(context.Context) error {
		if n := limiter.Cleanup(10 * time.Minute); n > 0 {
			log.Debugf("evicted %d idle rate limiters", n)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	resolver := auth.NewResolver(auth.Config{
		SessionSecret:   []byte(cfg.Auth.SessionSecret),
		ServiceSecret:   []byte(cfg.Auth.ServiceSecret),
		AllowedServices: cfg.Auth.Services(),
		Logger:          log.Named("auth"),
	})

	a.handler = httpapi.NewHandler(httpapi.Options{
		Registry:    a.registry,
		Resolver:    resolver,
		Logger:      log.Named("httpapi"),
		RateLimiter: limiter,
		CORSOrigins: cfg.HTTP.Origins(),
		Audit:       a.audit,
		Checks:      a.healthChecks(),
	})

	log.Infof("registered %d methods across %d services", len(a.registry.Descriptors()), len(a.registry.Services()))
	return a, nil
}

// initService runs a service's one-time initialisation. Every failure is
// fatal at startup.
func initService(ctx context.Context, name string, init func(context.Context) error) error {
	if err := init(ctx); err != nil {
		if errors.HasCode(err, errors.CodeConfiguration) {
			return err
		}
		return errors.Configurationf("init %s: %v", name, err)
	}
	return nil
}

func (a *Application) openDatabase(ctx context.Context) error {
	if a.cfg.Storage.Driver != config.StoragePostgres {
		return nil
	}
	sc := a.cfg.Storage
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	db, err := postgres.Open(pingCtx, sc.DatabaseURL, postgres.Options{
		MaxOpenConns:    sc.MaxOpenConns,
		MaxIdleConns:    sc.MaxIdleConns,
		ConnMaxLifetime: sc.ConnMaxLifetime,
	})
	if err != nil {
		return errors.Configurationf("database: %v", err)
	}
	a.db = db
	return nil
}

// buildCache returns the Redis cache and lock when Redis is configured and
// in-process ones otherwise.
func (a *Application) buildCache() (cache.Cache, validation.Locker) {
	rc := a.cfg.Redis
	if rc.Addr == "" {
		return cache.NewMemory(4096, rc.CacheTTL), validation.NewLocalLocker()
	}
	a.redis = cache.NewRedisClient(rc.Addr, rc.Password, rc.DB)
	return cache.NewRedis(a.redis, rc.Prefix+"cache:", rc.CacheTTL),
		validation.NewRedisLocker(a.redis, rc.Prefix+"lock:", rc.LockTTL)
}

func (a *Application) buildFileStore(ctx context.Context) (transfer.FileStore, error) {
	fc := a.cfg.Files
	if fc.Driver != config.FilesS3 {
		return transfer.NewMemoryStore(), nil
	}
	store, err := transfer.OpenMinio(ctx, transfer.MinioOptions{
		Endpoint:  fc.Endpoint,
		AccessKey: fc.AccessKey,
		SecretKey: fc.SecretKey,
		Bucket:    fc.Bucket,
		Prefix:    fc.Prefix,
		Secure:    fc.Secure,
	})
	if err != nil {
		if errors.HasCode(err, errors.CodeConfiguration) {
			return nil, err
		}
		return nil, errors.Configurationf("open file store: %v", err)
	}
	return store, nil
}

// codec returns the export file codec for format; spreadsheets unless csv
// is asked for.
func codec(format string) transfer.Codec {
	if format == config.FormatCSV {
		return transfer.CSV{}
	}
	return transfer.XLSX{}
}

func (a *Application) healthChecks() map[string]httpapi.HealthCheck {
	checks := map[string]httpapi.HealthCheck{}
	if a.db != nil {
		db := a.db
		checks["database"] = func(ctx context.Context) error { return db.PingContext(ctx) }
	}
	if a.redis != nil {
		client := a.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

// Handler returns the HTTP boundary.
func (a *Application) Handler() http.Handler { return a.handler }

// Registry returns the frozen method registry.
func (a *Application) Registry() *service.Registry { return a.registry }

// Runner returns the shared async runner.
func (a *Application) Runner() *async.Runner { return a.runner }

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services, waiting for deferred work within ctx.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Close releases the database, Redis and audit file handles.
func (a *Application) Close() error {
	var result *multierror.Error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close database: %w", err))
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
		}
		a.redis = nil
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close audit log: %w", err))
		}
		a.sink = nil
	}
	return result.ErrorOrNil()
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts the server down and stops every service.
func (a *Application) Run(ctx context.Context) error {
	hc := a.cfg.HTTP
	srv := &http.Server{
		Addr:              hc.Addr,
		Handler:           a.handler,
		ReadTimeout:       hc.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      hc.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	if err := a.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", hc.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	timeout := hc.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var result *multierror.Error
	if serveErr != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", serveErr))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := a.Stop(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	a.log.Info("HTTP server stopped")
	return result.ErrorOrNil()
}
