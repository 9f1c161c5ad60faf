package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vigil-sec/vigil/internal/security/geo"
	httpapi "github.com/vigil-sec/vigil/internal/security/http"
	"github.com/vigil-sec/vigil/internal/security/service"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/internal/security/store/drivers/sqlite"
	"github.com/vigil-sec/vigil/internal/security/throttle"
	"github.com/vigil-sec/vigil/pkg/cryptox"
	"github.com/vigil-sec/vigil/pkg/jwtx"
	"github.com/vigil-sec/vigil/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the session security engine with all its
// dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	signer   *jwtx.Signer
	verifier *jwtx.Verifier

	// Services
	auditService     *service.AuditService
	notifier         *service.Notifier
	twoFactorService *service.TwoFactorService
	detector         *service.Detector
	sessionService   *service.SessionService
	authService      *service.AuthService
	adminService     *service.AdminService
	cleanupService   *service.CleanupService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "vigil",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(app.cfg.PepperFile)
	if app.cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(app.cfg.MasterKeyPath)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	// Token keys are ephemeral: a restart invalidates outstanding access
	// tokens, which session-bound tokens tolerate.
	signer, verifier, err := jwtx.NewKeyPair(app.cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token keys: %w", err)
	}
	app.signer = signer
	app.verifier = verifier

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.cleanupService.Start()

	app.logger.Info("session security engine starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down session security engine...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.cleanupService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("session security engine stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.notifier = &service.Notifier{
		Mailer:        app.buildMailer(),
		Log:           app.logger,
		OperatorEmail: app.cfg.OperatorEmail,
	}

	app.auditService = &service.AuditService{
		Store:  app.db,
		Notify: app.notifier,
		Log:    app.logger,
	}

	app.twoFactorService = &service.TwoFactorService{
		Store:  app.db,
		Audit:  app.auditService,
		Issuer: app.cfg.Issuer,
	}

	app.detector = &service.Detector{
		Store: app.db,
		Geo:   app.buildGeoResolver(),
		Log:   app.logger,
	}

	app.sessionService = &service.SessionService{
		Store:  app.db,
		Audit:  app.auditService,
		Notify: app.notifier,
		Log:    app.logger,
	}

	app.authService = &service.AuthService{
		Store:     app.db,
		Throttle:  app.buildThrottle(),
		TwoFactor: app.twoFactorService,
		Detector:  app.detector,
		Sessions:  app.sessionService,
		Audit:     app.auditService,
		Notify:    app.notifier,
		Signer:    app.signer,
		Geo:       app.detector.Geo,
		Log:       app.logger,
		Issuer:    app.cfg.Issuer,
		TokenTTL:  app.cfg.TokenTTL,
	}

	app.adminService = &service.AdminService{
		Store:  app.db,
		Audit:  app.auditService,
		Notify: app.notifier,
		Log:    app.logger,
	}

	app.cleanupService = service.NewCleanupService(
		app.db,
		app.sessionService,
		app.auditService,
		app.notifier,
		app.logger,
		app.cfg.CleanupInterval,
		app.cfg.SessionTTL,
	)
}

// buildThrottle picks the throttle backend. Redis is preferred when
// configured so lockout state is shared across replicas.
func (app *Application) buildThrottle() *throttle.Limiter {
	cfg := throttle.Config{
		MaxFailures:  app.cfg.ThrottleMaxFailures,
		Window:       app.cfg.ThrottleWindow,
		LockDuration: app.cfg.ThrottleLockDuration,
	}

	if app.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		app.logger.Info("login throttling backed by redis", "addr", app.cfg.RedisAddr)
		return throttle.NewLimiter(throttle.NewRedisStore(client), cfg)
	}

	return throttle.NewLimiter(throttle.NewMemoryStore(), cfg)
}

func (app *Application) buildGeoResolver() geo.Resolver {
	if app.cfg.GeoLookupURL != "" {
		return geo.NewHTTPResolver(app.cfg.GeoLookupURL)
	}
	// Without a lookup service location-based checks degrade gracefully.
	return geo.NewStaticResolver(nil)
}

func (app *Application) buildMailer() service.Mailer {
	if app.cfg.SMTPAddr != "" {
		return &service.SMTPMailer{Addr: app.cfg.SMTPAddr, From: app.cfg.SMTPFrom}
	}
	return &service.LogMailer{Log: app.logger}
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.verifier,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.SchedulerToken = app.cfg.SchedulerToken
	router.Auth = app.authService
	router.TwoFactor = app.twoFactorService
	router.Sessions = app.sessionService
	router.Audit = app.auditService
	router.Admin = app.adminService
	router.Cleanup = app.cleanupService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
