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

	httpapi "github.com/attendgrid/sessiond/internal/auth/http"
	"github.com/attendgrid/sessiond/internal/auth/service"
	"github.com/attendgrid/sessiond/internal/auth/store"
	"github.com/attendgrid/sessiond/internal/auth/store/drivers/sqlite"
	"github.com/attendgrid/sessiond/pkg/cryptox"
	"github.com/attendgrid/sessiond/pkg/jwtx"
	"github.com/attendgrid/sessiond/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the session service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db    store.Store
	codec *jwtx.Codec

	sessionService      *service.SessionService
	refreshService      *service.RefreshService
	twoFactorService    *service.TwoFactorService
	userService         *service.UserService
	gate                *service.SecurityGate
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "sessiond",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initCodec(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("session service starting", "port", app.cfg.Port, "version", BuildVersion)

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

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down session service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("session service stopped")
	return nil
}

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

func (app *Application) initCodec() error {
	key := []byte(app.cfg.SigningKey)
	if len(key) == 0 {
		// Ephemeral key: fine for a single instance, but tokens won't
		// survive a restart and replicas won't verify each other's.
		key = []byte(cryptox.MustGenerateToken(cryptox.TokenSize256))
		app.logger.Warn("SESSION_SIGNING_KEY not set, generated an ephemeral signing key")
	}

	codec, err := jwtx.NewCodec(key, app.cfg.Issuer, app.cfg.Audience)
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}
	app.codec = codec
	return nil
}

func (app *Application) initServices() error {
	patterns, err := service.CompileInputPatterns(app.cfg.MaliciousPatterns)
	if err != nil {
		return fmt.Errorf("failed to parse SESSION_MALICIOUS_PATTERNS: %w", err)
	}

	app.refreshService = &service.RefreshService{
		Codec:      app.codec,
		Store:      app.db,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
	}

	app.twoFactorService = &service.TwoFactorService{
		Store:    app.db,
		Notifier: service.LogNotifier{},
		Issuer:   app.cfg.Issuer,
	}

	app.gate = &service.SecurityGate{
		Store:           app.db,
		RequiredHeaders: app.cfg.RequiredHeaders,
		InputPatterns:   patterns,
		RatePerMinute:   app.cfg.RatePerMinute,
		RateBurst:       app.cfg.RateBurst,
	}

	app.userService = &service.UserService{Store: app.db}

	app.sessionService = &service.SessionService{
		Store:     app.db,
		Refresh:   app.refreshService,
		TwoFactor: app.twoFactorService,
		Gate:      app.gate,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.codec,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.SessionService = app.sessionService
	router.TwoFactorService = app.twoFactorService
	router.UserService = app.userService
	router.Gate = app.gate
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
