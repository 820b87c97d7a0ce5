// Package server wires the clinic security core together: storage, audit
// channels, the lockout machine, the access guard and both network
// endpoints. It also runs the housekeeping loops and handles shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/clinicguard/internal/fieldcrypt"
	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/auth"
	"github.com/dmitrijs2005/clinicguard/internal/server/config"
	"github.com/dmitrijs2005/clinicguard/internal/server/guard"
	"github.com/dmitrijs2005/clinicguard/internal/server/httpapi"
	"github.com/dmitrijs2005/clinicguard/internal/server/lockout"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/recordid"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/clinicguard/internal/server/reqctx"
	"github.com/dmitrijs2005/clinicguard/internal/server/services"

	gs "github.com/dmitrijs2005/clinicguard/internal/server/grpc"
)

const (
	sessionPurgeInterval = 5 * time.Minute
	limiterSweepInterval = time.Minute
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	auth   *auth.Service
	http   *httpapi.Server
	grpc   *gs.GRPCServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	app, err := build(c, logger, db, rm)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

// build assembles the object graph on top of an open database.
func build(c *config.Config, logger logging.Logger, db *sql.DB, rm repomanager.RepositoryManager) (*App, error) {
	codec, err := fieldcrypt.NewFromBase64(c.FieldKey, fieldcrypt.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("field key: %w", err)
	}

	security := audit.NewDBSink(rm.AuditLogs(db), models.ChannelSecurity, logger)
	activity := audit.NewDBSink(rm.AuditLogs(db), models.ChannelActivity, logger)

	machine := lockout.New(rm.Accounts(db), security,
		lockout.WithThreshold(c.LockoutThreshold),
		lockout.WithPeriod(c.LockoutPeriod),
		lockout.WithLogger(logger),
	)
	g := guard.New(db, rm, security, logger)
	authSvc := auth.NewService(db, rm, g, machine, security, c, auth.WithLogger(logger))

	var popts []services.PatientOption
	popts = append(popts, services.WithPatientLogger(logger))
	if c.PredictorURL != "" {
		popts = append(popts, services.WithPredictor(services.NewHTTPPredictor(c.PredictorURL, logger)))
	}
	ids := recordid.NewGenerator(rm.Patients(db), security)

	auditSvc := audit.NewService(rm.AuditLogs(db))
	svc := httpapi.Services{
		Auth:     authSvc,
		Accounts: services.NewAccountService(db, rm, g, machine, security),
		Patients: services.NewPatientService(db, rm, g, codec, ids, activity, popts...),
		Audit:    auditSvc,
		Archive:  services.NewArchiveService(auditSvc, c, security),
	}

	limiter := httpapi.NewLoginLimiter(c.LoginRatePerMinute, c.LoginBurst)
	proxies, err := reqctx.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return nil, err
	}

	return &App{
		config: c,
		logger: logger,
		db:     db,
		auth:   authSvc,
		http:   httpapi.NewServer(c.HTTPAddr, g, svc, limiter, security, logger, httpapi.WithTrustedProxies(proxies)),
		grpc:   gs.NewGRPCServer(c.GRPCAddr, g, authSvc, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// purgeSessions drops expired session rows until ctx is done.
func (app *App) purgeSessions(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := app.auth.PurgeExpiredSessions(ctx)
			if err != nil {
				app.logger.Warn(ctx, "session purge failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Debug(ctx, "expired sessions purged", "removed", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(4)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.purgeSessions(ctx, sessionPurgeInterval)
	}()
	go func() {
		defer wg.Done()
		app.http.SweepLimiter(ctx, limiterSweepInterval)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
