package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-dashboard-auth"
	"github.com/goliatone/go-dashboard-auth/config"
	"github.com/goliatone/go-dashboard-auth/provider/gotrue"
	"github.com/goliatone/go-dashboard-auth/proxy"
	"github.com/goliatone/go-dashboard-auth/repository"
	"github.com/goliatone/go-dashboard-auth/syncop"
	"github.com/goliatone/go-dashboard-auth/web"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config   *config.Config
	logger   *glog.BaseLogger
	bunDB    *bun.DB
	activity *repository.ActivityRepository
	identity *gotrue.Provider
	auth     *auth.Provider
	registry *prometheus.Registry
	web      *web.Controller
	srv      router.Server[*fiber.App]
	fiber    *fiber.App
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("dashboard"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := config.Load()
	if err != nil {
		lgr.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Println("============")
	fmt.Println(print.MaybeHighlightJSON(cfg))
	fmt.Println("============")

	app := &App{
		config:   cfg,
		logger:   lgr,
		registry: prometheus.NewRegistry(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := WithPersistence(ctx, app); err != nil {
		lgr.Error("failed to set up persistence", "error", err)
		os.Exit(1)
	}

	if err := WithAuth(ctx, app); err != nil {
		lgr.Error("failed to set up auth", "error", err)
		os.Exit(1)
	}

	WithHTTPServer(app)

	go app.identity.AutoRefresh(ctx, 30*time.Second)
	go PurgeActivity(ctx, app)

	go func() {
		if err := app.srv.Serve(cfg.GetServerAddr()); err != nil {
			lgr.Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	lgr.Info("shutting down", "signal", sig.String())

	cancel()
	app.Shutdown()
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.config.GetActivityDSN())
	if err != nil {
		return err
	}

	app.bunDB = bun.NewDB(sqldb, sqlitedialect.New())
	app.activity = repository.NewActivityRepository(app.bunDB)

	return app.activity.CreateSchema(ctx)
}

func WithAuth(ctx context.Context, app *App) error {
	identity, err := gotrue.New(gotrue.Config{
		URL:       app.config.GetSupabaseURL(),
		AnonKey:   app.config.GetAnonKey(),
		JWTSecret: app.config.GetJWTSecret(),
		JWKSURL:   app.config.GetJWKSURL(),
		Logger:    app.GetLogger("gotrue"),
	})
	if err != nil {
		return err
	}
	app.identity = identity

	app.auth = auth.NewProvider(identity,
		auth.WithLogger(app.GetLogger("auth")),
		auth.WithActivitySink(app.activity),
		auth.WithRedirectURL(app.config.GetRedirectURL()),
		auth.WithProviderLoadingTimeout(app.config.GetLoadingTimeout()),
	)

	return app.auth.Mount(ctx)
}

func WithHTTPServer(app *App) {
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client := proxy.New(proxy.Config{
		BaseURL: app.config.GetSupabaseURL(),
		APIKey:  app.config.GetAnonKey(),
		Tokens:  proxy.SessionTokenSource(app.auth),
	})

	metrics := syncop.NewMetrics(app.registry)
	recorder := syncop.NewRecorder(0)
	syncLogger := app.GetLogger("sync")

	controllerOpts := []syncop.Option{
		syncop.WithNotifier(recorder),
		syncop.WithLogger(syncLogger),
		syncop.WithMetrics(metrics),
		syncop.WithActivitySink(app.activity),
		syncop.WithTimeout(app.config.GetSyncTimeout()),
	}

	locations := syncop.New(
		syncop.NewLocationImport(client, syncop.WithLocationsFunction(app.config.GetLocationsFunction())),
		controllerOpts...,
	)

	exportFunction := app.config.GetExportFunction()

	app.srv = router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app.fiber = router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "dashboard",
			DisableStartupMessage: true,
		}))
		return app.fiber
	})
	app.srv.Router().WithLogger(app.GetLogger("router"))

	app.web = web.RegisterRoutes(app.srv.Router(),
		web.WithLogger(app.GetLogger("web")),
		web.WithSurface(app.auth),
		web.WithCodeExchanger(app.identity),
		web.WithLocationImport(locations, app.config.GetLocationsTenantID()),
		web.WithDefaultExportBucket(app.config.GetExportBucket()),
		web.WithSecureCookies(app.config.GetSecureCookies()),
		web.WithExportFactory(func(req syncop.StorageExportRequest) *syncop.Controller {
			return syncop.New(
				syncop.NewStorageExport(client, req, syncop.WithExportFunction(exportFunction)),
				controllerOpts...,
			)
		}),
		web.WithNotifications(recorder),
		web.WithGatherer(app.registry),
		web.WithActivity(app.activity),
	)
}

// PurgeActivity removes activity older than the configured retention once
// an hour until ctx is done.
func PurgeActivity(ctx context.Context, app *App) {
	logger := app.GetLogger("activity")
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-app.config.GetActivityRetention())
		if n, err := app.activity.Purge(ctx, cutoff); err != nil {
			logger.Warn("activity purge failed", "error", err)
		} else if n > 0 {
			logger.Info("activity purged", "records", n, "cutoff", cutoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) Shutdown() {
	logger := a.GetLogger("app")

	if a.web != nil {
		a.web.Close()
	}
	if a.fiber != nil {
		if err := a.fiber.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	if a.auth != nil {
		a.auth.Unmount()
	}
	if a.identity != nil {
		a.identity.Close()
	}
	if a.bunDB != nil {
		if err := a.bunDB.Close(); err != nil {
			logger.Warn("database close", "error", err)
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
