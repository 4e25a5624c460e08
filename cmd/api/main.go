package main

import (
	"context"
	"crypto/rsa"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/backoffice/internal/api/http"
	"github.com/spec-kit/backoffice/internal/api/http/handlers"
	"github.com/spec-kit/backoffice/internal/audit"
	"github.com/spec-kit/backoffice/internal/auth"
	"github.com/spec-kit/backoffice/internal/config"
	"github.com/spec-kit/backoffice/internal/keystore"
	"github.com/spec-kit/backoffice/internal/observability"
	"github.com/spec-kit/backoffice/internal/payment"
	"github.com/spec-kit/backoffice/internal/persistence"
	"github.com/spec-kit/backoffice/internal/repository"
	"github.com/spec-kit/backoffice/internal/security"
	"github.com/spec-kit/backoffice/internal/service"
	"github.com/spec-kit/backoffice/internal/webhook"
	"github.com/spec-kit/backoffice/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	keys := keystore.New(cfg.Keys, logger)
	material, err := keys.LoadOrGenerate()
	if err != nil {
		logger.Fatal("failed to load key material", zap.Error(err))
	}
	defer keys.Close()

	protector, err := security.NewProtector(material.DataKey)
	if err != nil {
		logger.Fatal("failed to init data protection", zap.Error(err))
	}

	authorizationKey := material.PublicKey()
	if path := cfg.Payments.AuthorizationPublicKeyPath; path != "" {
		authorizationKey, err = keystore.LoadPublicKeyFile(path)
		if err != nil {
			logger.Fatal("failed to load authorization public key", zap.Error(err))
		}
	}
	authority := mustAuthority(authorizationKey, cfg.Payments.RequireSignature, logger)

	verifier, err := webhook.NewVerifier(cfg.Processor.WebhookSecret)
	if err != nil {
		logger.Fatal("failed to init webhook verifier", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	clientRepo := repository.NewClientRepository(pool)
	payoutRepo := repository.NewPayoutRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	sourceRepo := repository.NewPaymentSourceRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	recorder := audit.NewRecorder(logger, metrics, cfg.Audit.BufferSize)
	worker.StartAuditWorker(recorder, audit.LogSink(logger), auditRepo)
	defer recorder.Close()

	processor, err := payment.NewFastPayClient(cfg.Processor.BaseURL, cfg.Processor.APIToken, cfg.Processor.Timeout())
	if err != nil {
		logger.Fatal("failed to init payment processor client", zap.Error(err))
	}
	dispatcher := payment.NewDispatcher(processor, recorder, logger, metrics)
	attempts := payment.NewRedisAttemptStore(redis.Client, cfg.Payments.AttemptTTL())

	tokens := auth.NewTokenService(material.SigningKey, userRepo, time.Duration(cfg.Auth.AccessTokenTTLMinutes)*time.Minute)

	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo: userRepo,
		Tokens:   tokens,
		Auditor:  recorder,
		Logger:   logger,
	})
	paymentService := service.NewPaymentService(service.PaymentDependencies{
		PayoutRepo:       payoutRepo,
		PaymentRepo:      paymentRepo,
		SourceRepo:       sourceRepo,
		Protector:        protector,
		Authority:        authority,
		Dispatcher:       dispatcher,
		Processor:        processor,
		Attempts:         attempts,
		Auditor:          recorder,
		Metrics:          metrics,
		Logger:           logger,
		RequireSignature: cfg.Payments.RequireSignature,
		ClaimLease:       cfg.Payments.ClaimLease(),
	})
	clientService := service.NewClientService(clientRepo, protector, recorder, logger)
	webhookService := service.NewWebhookService(verifier, paymentRepo, recorder, metrics, logger)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Metrics:        handlers.NewMetricsHandler(metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Payments:       handlers.NewPaymentsHandler(paymentService),
		Clients:        handlers.NewClientsHandler(clientService),
		Webhooks:       handlers.NewWebhookHandler(webhookService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, logger, metrics),
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func mustAuthority(key *rsa.PublicKey, required bool, logger *zap.Logger) *security.Authority {
	authority, err := security.NewAuthority(key)
	if err != nil {
		if required {
			logger.Fatal("failed to init signature authority", zap.Error(err))
		}
		return nil
	}
	if !required {
		logger.Warn("payment signature check disabled by PAYMENTS_REQUIRE_SIGNATURE")
	}
	return authority
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
