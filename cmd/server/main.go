package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/strategy/ctxmissing"
	"github.com/aws/aws-xray-sdk-go/xray"

	adapterlogger "carehub/internal/adapters/logger"
	"carehub/internal/adapters/metrics"
	"carehub/internal/application"
	"carehub/internal/infrastructure/auth"
	"carehub/internal/infrastructure/cache"
	"carehub/internal/infrastructure/config"
	"carehub/internal/infrastructure/dynamodb"
	"carehub/internal/infrastructure/memory"
	"carehub/internal/infrastructure/notify"
	"carehub/internal/infrastructure/redis"
	httpiface "carehub/internal/interfaces/http"
	"carehub/internal/platform/worker"
	"carehub/internal/ports"
)

const redriveTimeout = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		adapterlogger.New("error").Error(context.Background(), "configuration error", "error", err)
		os.Exit(1)
	}
	logger := adapterlogger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(context.Background(), "server exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	identities    ports.IdentityRepository
	roles         ports.RoleRepository
	sessions      ports.SessionStore
	sequence      ports.CodeSequence
	subscriptions ports.SubscriptionRepository
	audit         ports.AuditRepository
	inbox         ports.NotificationRepository
	jobs          ports.NotificationJobRepository
	closers       []func() error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}
	switch cfg.Storage.Driver {
	case config.StorageDynamoDB:
		client, err := dynamodb.NewClient(ctx, cfg.Storage.Region, cfg.Storage.TableName, cfg.Storage.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("initialize dynamodb client: %w", err)
		}
		s.identities = dynamodb.NewIdentityRepository(client)
		s.roles = dynamodb.NewRoleRepository(client)
		s.sequence = dynamodb.NewCodeSequence(client)
		s.subscriptions = dynamodb.NewSubscriptionRepository(client)
		s.audit = dynamodb.NewAuditRepository(client)
		s.inbox = dynamodb.NewNotificationRepository(client)
		s.jobs = dynamodb.NewNotificationJobRepository(client)
	default:
		s.identities = memory.NewIdentityRepository()
		s.roles = memory.NewRoleRepository()
		s.sequence = memory.NewCodeSequence()
		s.subscriptions = memory.NewSubscriptionRepository()
		s.audit = memory.NewAuditRepository()
		s.inbox = memory.NewNotificationRepository()
		s.jobs = memory.NewNotificationJobRepository()
	}
	s.roles = cache.NewRoleRepository(s.roles, cfg.Auth.RoleCacheSize, cfg.Auth.RoleCacheTTL)

	switch cfg.Sessions.Driver {
	case config.SessionsRedis:
		client, err := redis.Connect(ctx, redis.Options{
			URL:          cfg.Sessions.RedisURL,
			PoolSize:     cfg.Sessions.PoolSize,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		s.sessions = redis.NewSessionStore(client)
		s.closers = append(s.closers, client.Close)
	default:
		s.sessions = memory.NewSessionStore()
	}
	return s, nil
}

func (s *stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, cfg *config.Config, logger *adapterlogger.SlogLogger) error {
	if err := xray.Configure(xray.Config{
		LogLevel:               "error",
		ContextMissingStrategy: ctxmissing.NewDefaultIgnoreErrorStrategy(),
	}); err != nil {
		return fmt.Errorf("configure tracing: %w", err)
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn(context.Background(), "closing stores", "error", err)
		}
	}()

	m := metrics.New()
	tokens, err := auth.NewTokenManager(cfg.Sessions.Secret)
	if err != nil {
		return err
	}
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)

	var notifier ports.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notifications.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notifications.WebhookURL, cfg.Notifications.RatePerSecond, cfg.Notifications.Burst, cfg.Notifications.TaskTimeout)
	}

	pool := worker.NewPool(cfg.Notifications.Workers, cfg.Notifications.QueueSize, cfg.Notifications.TaskTimeout, func(err error) {
		logger.Error(context.Background(), "notification task failed", "error", err)
	})
	pool.Start(context.Background())

	dispatcher := application.NewNotificationDispatcher(st.jobs, st.inbox, st.identities, st.roles, notifier, pool, logger, m,
		application.DispatcherConfig{
			MaxAttempts: cfg.Notifications.MaxAttempts,
			BaseBackoff: cfg.Notifications.BaseBackoff,
			MaxBackoff:  cfg.Notifications.MaxBackoff,
		})
	redrive, err := dispatcher.ScheduleRedrive(cfg.Notifications.RedriveSchedule, redriveTimeout)
	if err != nil {
		return err
	}
	redrive.Start()

	audit := application.NewAuditLogger(st.audit, dispatcher, logger, m)
	codes, err := application.NewCodeGenerator(st.sequence, application.SubscriptionSequence, cfg.Codes.Prefix, cfg.Codes.Width, m)
	if err != nil {
		return err
	}
	if n, err := codes.Reconcile(ctx, st.subscriptions); err != nil {
		return fmt.Errorf("reconcile subscription codes: %w", err)
	} else if n > 0 {
		logger.Info(ctx, "subscription counter reconciled", "highest", codes.Format(n))
	}

	if err := application.NewBootstrapper(st.roles, st.identities, hasher, logger).Seed(ctx, application.BootstrapInput{
		AdminEmail:    cfg.Bootstrap.AdminEmail,
		AdminPassword: cfg.Bootstrap.AdminPassword,
		AdminName:     cfg.Bootstrap.AdminName,
	}); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	sessions := application.NewSessionService(st.identities, st.roles, st.sessions, tokens, hasher, audit, cfg.Sessions.TTL)
	if cfg.CognitoEnabled() {
		sessions.WithFederation(auth.NewCognitoVerifier(cfg.Storage.Region, cfg.Auth.CognitoUserPoolID, cfg.Auth.CognitoClientID))
	}

	opts := httpiface.Options{
		Logger:         logger,
		Metrics:        m,
		RequestTimeout: cfg.Server.RequestTimeout,
		SecureCookies:  cfg.Server.SecureCookies,
	}
	if cfg.Tracing.Enabled {
		opts.TracingSegment = "carehub-http"
	}
	e, err := httpiface.NewRouter(httpiface.Services{
		Sessions:      sessions,
		Authz:         application.NewAuthorizationService(logger, m),
		Roles:         application.NewRoleService(st.roles, st.identities, audit),
		Notifications: application.NewNotificationService(st.inbox),
		Subscriptions: application.NewSubscriptionService(st.subscriptions, codes, audit),
		Audit:         audit,
	}, opts)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "starting http server", "addr", cfg.Addr(), "env", cfg.Env)
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := e.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	<-redrive.Stop().Done()
	if err := pool.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain notification pool: %w", err))
	}
	return errors.Join(errs...)
}
