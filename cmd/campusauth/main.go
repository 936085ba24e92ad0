package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/layer-3/campusauth/adapters/events"
	"github.com/layer-3/campusauth/adapters/hasher"
	"github.com/layer-3/campusauth/adapters/identity"
	"github.com/layer-3/campusauth/adapters/notifier"
	"github.com/layer-3/campusauth/adapters/store"
	"github.com/layer-3/campusauth/adapters/tokenizer"
	"github.com/layer-3/campusauth/config"
	"github.com/layer-3/campusauth/ports"
	"github.com/layer-3/campusauth/service"
	transport "github.com/layer-3/campusauth/transport/http"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// run returns only after its deferred cleanup has finished
	if err := run(cfg, logger); err != nil {
		logger.Error("campusauth stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	var redisClient redis.UniversalClient
	if cfg.NeedsRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		redisClient = client
	}

	identities, err := openIdentityStore(cfg)
	if err != nil {
		return err
	}
	defer identities.Close()

	otps, sessions := openEphemeralStores(cfg, redisClient)

	tok, err := newTokenizer(cfg)
	if err != nil {
		return err
	}

	bus, err := events.NewBus(cfg.EventsBackend, redisClient, events.NewZapLoggerAdapter(logger.Named("events")))
	if err != nil {
		return err
	}
	defer bus.Close()

	audit, err := events.NewAuditRouter(bus.Subscriber, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := audit.Run(context.Background()); err != nil {
			logger.Error("audit router stopped", zap.Error(err))
		}
	}()
	defer audit.Close()

	opts := service.DefaultOptions()
	opts.OtpTTL = cfg.OtpTTL
	opts.ResetTTL = cfg.ResetTTL
	opts.SessionTTL = cfg.SessionTTL
	opts.MaxOtpAttempts = cfg.OtpMaxAttempts
	opts.MaxAdmins = cfg.MaxAdmins
	opts.Production = cfg.IsProduction()
	opts.StrictResetDelivery = cfg.StrictResetDelivery
	opts.ResetURL = cfg.ResetURL

	authService := service.NewAuthService(
		identities,
		otps,
		sessions,
		tok,
		newNotifier(cfg, logger),
		events.NewWatermillPublisher(bus.Publisher),
		logger,
		opts,
	)

	if cfg.BootstrapAdminEmail != "" {
		created, err := authService.EnsureAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("failed to bootstrap admin: %w", err)
		}
		if created {
			logger.Info("bootstrap admin created", zap.String("email", cfg.BootstrapAdminEmail))
		}
	}

	keeper := service.NewHousekeeper(logger, cfg.HousekeepingInterval, cfg.ExpiredRetention)
	keeper.Register("otp", otps)
	keeper.Register("sessions", sessions)
	if keeper.Len() > 0 {
		keeper.Start()
		defer keeper.Stop()
	}

	router, err := transport.SetupRouter(authService, logger, transport.NewRateLimiter(cfg.RateLimitRPM), cfg.TrustedProxies)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Environment))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()

		if err := server.Shutdown(stopCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		logger.Info("http server stopped")
		return nil
	}
}

func openIdentityStore(cfg config.Config) (ports.IdentityStore, error) {
	h := hasher.NewArgon2(hasher.DefaultParams)

	switch cfg.IdentityBackend {
	case config.IdentitySQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseFile), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
		s, err := identity.NewSQLiteStore(cfg.DatabaseFile, h)
		if err != nil {
			return nil, err
		}
		if err := s.ApplyMigrations(); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return identity.NewFileStore(cfg.DataDir, h)
	}
}

func openEphemeralStores(cfg config.Config, client redis.UniversalClient) (ports.OtpLedger, ports.SessionRegistry) {
	if cfg.EphemeralBackend == config.EphemeralRedis {
		return store.NewRedisOtpLedger(client, "", cfg.ExpiredRetention),
			store.NewRedisSessionRegistry(client, "", cfg.ExpiredRetention)
	}
	return store.NewMemoryOtpLedger(), store.NewMemorySessionRegistry()
}

func newTokenizer(cfg config.Config) (ports.Tokenizer, error) {
	if cfg.TokenFormat != config.TokenJWT {
		return tokenizer.NewOpaqueTokenizer(), nil
	}

	key, err := tokenizer.LoadOrCreateSigningKey(cfg.SigningKeyFile)
	if err != nil {
		return nil, err
	}
	return tokenizer.NewJWTTokenizer(key, "campusauth"), nil
}

func newNotifier(cfg config.Config, logger *zap.Logger) ports.Notifier {
	if cfg.Notifier == config.NotifierSMTP {
		return notifier.NewSMTPNotifier(notifier.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	return notifier.NewLogNotifier(logger)
}
