package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"trafi.io/internal/audit"
	"trafi.io/internal/auth"
	"trafi.io/internal/config"
	"trafi.io/internal/httpapi"
	"trafi.io/internal/obs"
	"trafi.io/internal/store/memory"
	"trafi.io/internal/store/pg"
	"trafi.io/internal/tenant"
)

var (
	version = "0.1.0"
	commit  = ""
)

// backend is everything the API needs from storage; both the PostgreSQL
// and the in-memory store satisfy it.
type backend interface {
	auth.UserStore
	auth.APIKeyStore
	tenant.MemberStore
	tenant.Records
	audit.Sink
	audit.Reader
	tenant.Provisioner
	httpapi.Pinger
}

func main() {
	var (
		configPath = flag.String("config", os.Getenv("TRAFI_CONFIG"), "Path to YAML config file")
		devEmail   = flag.String("dev-owner-email", "", "Bootstrap an owner on the in-memory store")
		devPass    = flag.String("dev-owner-password", "", "Password for -dev-owner-email")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// логгер ещё не настроен
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := obs.NewLogger(cfg.Log, os.Stdout)
	defer func() { _ = logger.Sync() }()

	// Инициализация observability (регистрация метрик)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var store backend
	if cfg.Database.DSN != "" {
		pgStore, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		logger.Warn("database.dsn is empty, using the in-memory store")
		mem := memory.New()
		if *devEmail != "" {
			storeID, owner, err := tenant.Bootstrap(context.Background(), mem, tenant.BootstrapInput{
				StoreName:    "Development",
				Email:        *devEmail,
				Password:     *devPass,
				PasswordCost: cfg.Auth.BcryptCost,
			})
			if err != nil {
				logger.Fatal("bootstrap dev owner", zap.Error(err))
			}
			logger.Info("dev owner bootstrapped", zap.String("store_id", storeID), zap.String("user_id", owner.ID))
		}
		store = mem
	}

	keys := auth.NewAPIKeyService(store, auth.WithAPIKeyLogger(logger))
	engine, err := auth.NewService(store,
		auth.WithSigningSecret(cfg.Auth.Secret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithAPIKeys(keys),
		auth.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}
	members := tenant.NewMembers(store,
		tenant.WithPasswordHasher(func(pw string) (string, error) {
			return auth.HashPasswordWithCost(pw, cfg.Auth.BcryptCost)
		}),
		tenant.WithMembersLogger(logger),
	)

	recorder := audit.NewRecorder(audit.Tee{store, audit.NewLogSink(logger)},
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithWorkers(cfg.Audit.Workers),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
		audit.WithLogger(logger),
	)
	quit := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case err := <-recorder.Errors():
				logger.Warn("audit sink error", zap.Error(err))
			case <-quit:
				return
			}
		}
	}()

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}

	api := httpapi.New(httpapi.Deps{
		Engine:         engine,
		APIKeys:        keys,
		Members:        members,
		Records:        store,
		Audit:          recorder,
		AuditLogs:      store,
		Ready:          httpapi.ReadyProbe{Store: store},
		Logger:         logger,
		Version:        version,
		LoginPerSecond: cfg.RateLimit.LoginPerSecond,
		LoginBurst:     cfg.RateLimit.LoginBurst,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	logger.Info("starting trafi-api", zap.String("version", version), zap.String("addr", srv.Addr))

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	api.Close()
	recorder.Close()
	keys.Wait()
	close(quit)
	<-drained
	logger.Info("stopped")
}
