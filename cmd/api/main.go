package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"authgate.org/internal/audit"
	"authgate.org/internal/config"
	"authgate.org/internal/domain"
	"authgate.org/internal/httpapi"
	"authgate.org/internal/keys"
	"authgate.org/internal/migrate"
	"authgate.org/internal/obs"
	"authgate.org/internal/password"
	"authgate.org/internal/store/memory"
	"authgate.org/internal/store/pg"
	"authgate.org/internal/token"
	"authgate.org/internal/workflow"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// defaultRoles are created when running without a database.
var defaultRoles = []string{"Admin", "User"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().WithError(err).Fatal("load config")
	}
	if err := obs.Configure(cfg.LogLevel, cfg.LogFormat, nil); err != nil {
		obs.Logger().WithError(err).Fatal("configure logging")
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Component("api")

	ctx := context.Background()

	km := keys.NewManager(cfg.KeysDir, keys.WithKeyBits(cfg.KeyBits), keys.WithGenerateHook(func() {
		obs.KeyGenerated()
		_ = audit.LogEvent(ctx, "keys.generated", map[string]any{"dir": cfg.KeysDir})
	}))
	if _, err := km.EnsureKeysExist(); err != nil {
		log.WithError(err).Fatal("ensure signing keys")
	}

	units, probe, db, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}

	hasher, err := password.NewHasher(cfg.HasherOptions()...)
	if err != nil {
		log.WithError(err).Fatal("password hasher")
	}
	settings := cfg.TokenSettings()
	flow := workflow.New(units, hasher, token.NewIssuer(km, settings))
	validator := token.NewValidator(km, settings, token.WithClockSkew(cfg.JWT.ClockSkew))

	proxies, err := cfg.TrustedProxies()
	if err != nil {
		log.WithError(err).Fatal("trusted proxies")
	}

	api := httpapi.New(probe, version, flow, validator, km,
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithRateLimit(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthService(probe, obs.Component("grpc"))
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}

	runCtx, stopHealth := context.WithCancel(ctx)
	go watchHealth(runCtx, health, 10*time.Second)

	log.WithFields(logrus.Fields{
		"version": version,
		"http":    srv.Addr,
		"grpc":    cfg.GRPCAddr,
	}).Info("starting authgate")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http listen")
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Fatal("grpc serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	stopHealth()
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	stopGRPC(shutdownCtx, grpcSrv)
	if db != nil {
		_ = db.Close()
	}
	log.Info("stopped")
}

// openStore picks PostgreSQL when a DSN is configured and the in-memory
// store otherwise.
func openStore(ctx context.Context, cfg config.Config) (domain.UnitFactory, httpapi.ReadyProbe, *sql.DB, error) {
	if cfg.PGDSN == "" {
		mem := memory.New(obs.Component("store"))
		if err := mem.SeedRoles(ctx, defaultRoles...); err != nil {
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		obs.Component("store").Warn("no database configured, using in-memory store")
		return mem.NewUnit, httpapi.ReadyProbe{}, nil, nil
	}

	db, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return nil, httpapi.ReadyProbe{}, nil, err
	}
	if cfg.AutoMigrate {
		mgr := migrate.NewManager(db, pg.Migrations(), pg.Seeds(), migrate.WithLogger(obs.Component("migrate")))
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := mgr.Up(migrateCtx); err != nil {
			_ = db.Close()
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		if _, err := mgr.Seed(migrateCtx); err != nil {
			_ = db.Close()
			return nil, httpapi.ReadyProbe{}, nil, err
		}
	}
	store := pg.New(db, obs.Component("store"))
	return store.NewUnit, httpapi.ReadyProbe{DB: db}, db, nil
}

func watchHealth(ctx context.Context, h *httpapi.HealthService, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		h.Refresh(checkCtx)
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func stopGRPC(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
	}
}
