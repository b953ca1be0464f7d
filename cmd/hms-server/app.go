package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/account"
	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/domain/subscription"
	"github.com/hms/hms/internal/domain/tenant"
	"github.com/hms/hms/internal/domain/user"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/notification"
)

const (
	tokenIssuer    = "hms"
	maxBodySize    = "1M"
	requestTimeout = 30 * time.Second
)

// app holds the wired services shared by the serve, tenant and
// subscriptions commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	clock  clock.Clock

	subscriptions *subscription.Service
	tenants       *tenant.Service
	users         *user.Service
	accounts      *account.Service
	patients      *patient.Service
	tokens        *auth.TokenIssuer

	closers []func(ctx context.Context)
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig reads and validates the environment, filling in throwaway
// signing secrets in development.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			if cfg.JWTSecret, err = randomSecret(); err != nil {
				return nil, err
			}
		}
		if cfg.JWTRefreshSecret == "" {
			if cfg.JWTRefreshSecret, err = randomSecret(); err != nil {
				return nil, err
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func randomSecret() (string, error) {
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// newApp connects to the database and the optional Redis and RabbitMQ
// backends and builds every service. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, pool: pool, clock: clock.New()}
	a.closers = append(a.closers, func(context.Context) { pool.Close() })

	if err := a.wire(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	a.tokens, err = auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  []byte(cfg.JWTSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
		AccessTTL:     cfg.JWTExpiration,
		RefreshTTL:    cfg.JWTRefreshExpiration,
		Issuer:        tokenIssuer,
	}, a.clock)
	if err != nil {
		return err
	}

	revoker, err := a.newRevoker(ctx)
	if err != nil {
		return err
	}
	dispatcher := a.newDispatcher(newMailer(cfg, a.logger))

	a.subscriptions = subscription.NewService(subscription.NewRepo(a.pool), a.clock, a.logger)

	a.users = user.NewService(user.NewRepo(a.pool), hasher, a.subscriptions, a.clock, a.logger)
	a.users.SetNotifier(dispatcher)

	runInTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, a.pool, fn)
	}
	a.tenants = tenant.NewService(tenant.NewRepo(a.pool), a.subscriptions, runInTx, a.clock, cfg.TrialDays, a.logger)
	a.tenants.SetAdminProvisioner(a.users)

	a.accounts = account.NewService(account.Config{
		Users:    user.NewRepo(a.pool),
		Creator:  a.users,
		Tenants:  a.tenants,
		Hasher:   hasher,
		Tokens:   a.tokens,
		Revoker:  revoker,
		Notifier: dispatcher,
		Clock:    a.clock,
		Logger:   a.logger,
	})

	a.patients = patient.NewService(patient.NewRepo(a.pool), a.subscriptions, a.logger)
	return nil
}

// newRevoker shares revocations through Redis when REDIS_URL is set and
// falls back to a process-local store otherwise.
func (a *app) newRevoker(ctx context.Context) (auth.RefreshRevoker, error) {
	if a.cfg.RedisURL == "" {
		store := auth.NewTokenRevocationStore(a.clock)
		a.closers = append(a.closers, func(context.Context) { store.Close() })
		a.logger.Warn().Msg("REDIS_URL not set; refresh token revocations are kept in memory")
		return store, nil
	}
	client, err := auth.NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) { client.Close() })
	a.logger.Info().Msg("connected to redis")
	return auth.NewRedisRevocationStore(client, a.clock), nil
}

func newMailer(cfg *config.Config, logger zerolog.Logger) *notification.Mailer {
	return notification.NewMailer(notification.NewTemplateEngine(), newSender(cfg, logger), cfg.FrontendURL)
}

// newSender prefers the Mailgun API, then an SMTP relay, and otherwise logs
// mail instead of sending it.
func newSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	switch {
	case cfg.MailgunDomain != "":
		return notification.NewMailgunSender(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.SMTPFrom, cfg.MailgunAPIBase)
	case cfg.SMTPHost == "":
		return notification.LogSender{Logger: logger}
	}
	return &notification.SMTPSender{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
}

// newDispatcher publishes to RabbitMQ when AMQP_URL is set; the worker
// command then delivers. Without a broker, mail goes out in-process.
func (a *app) newDispatcher(mailer *notification.Mailer) notification.Dispatcher {
	if a.cfg.AMQPURL != "" {
		q := notification.NewQueueDispatcher(a.cfg.AMQPURL, a.logger)
		a.closers = append(a.closers, func(context.Context) { q.Close() })
		return q
	}
	async := notification.NewAsyncDispatcher(mailer, a.logger)
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := async.Wait(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("pending notifications abandoned")
		}
	})
	return async
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

func rateLimitConfig(cfg *config.Config, clk clock.Clock) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
		Clock:             clk,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
		rl.Clock = clk
	}
	return rl
}

// router builds the HTTP surface. Public auth routes bypass the bearer
// token, principal and tenant middleware via auth.SkipPublic.
func (a *app) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(a.logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.SecurityHeaders(a.cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(middleware.RequestTimeout(requestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))

	a.registerAPI(e)
	return e
}

func (a *app) registerAPI(e *echo.Echo) {
	api := e.Group("/api/v1",
		auth.SkipPublic(auth.JWTMiddleware(a.tokens)),
		middleware.RateLimit(rateLimitConfig(a.cfg, a.clock)),
		auth.SkipPublic(auth.LoadPrincipal(a.users)),
		auth.SkipPublic(tenant.Middleware(a.tenants)),
	)

	account.NewHandler(a.accounts).RegisterRoutes(api)
	tenant.NewHandler(a.tenants).RegisterRoutes(api)
	subscription.NewHandler(a.subscriptions).RegisterRoutes(api)
	user.NewHandler(a.users, a.subscriptions).RegisterRoutes(api)
	patient.NewHandler(a.patients, a.subscriptions).RegisterRoutes(api)
}
