package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/hospital-core/internal/config"
	"github.com/ehr/hospital-core/internal/domain/billing"
	"github.com/ehr/hospital-core/internal/domain/encounter"
	"github.com/ehr/hospital-core/internal/domain/inpatient"
	"github.com/ehr/hospital-core/internal/platform/auth"
	"github.com/ehr/hospital-core/internal/platform/db"
	"github.com/ehr/hospital-core/internal/platform/events"
	"github.com/ehr/hospital-core/internal/platform/middleware"
	"github.com/ehr/hospital-core/internal/platform/numbering"
	"github.com/ehr/hospital-core/internal/platform/validate"
)

const version = "0.1.0"

// deps are the process-wide collaborators the HTTP server is built from.
type deps struct {
	pool      *pgxpool.Pool
	tx        db.Transactor
	reserver  numbering.Reserver
	publisher events.Publisher
	logger    zerolog.Logger
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if _, err := db.SchemaName(cfg.DefaultTenant); err != nil {
		logger.Fatal().Err(err).Msg("invalid DEFAULT_TENANT")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	d := deps{
		pool:      pool,
		tx:        db.NewTxManager(pool, cfg.TxRetryBackoff(), logger),
		publisher: events.Noop{},
		logger:    logger,
	}

	if cfg.RedisURL != "" {
		client, err := numbering.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		d.reserver = numbering.NewRedisReserver(client, time.Hour)
		logger.Info().Msg("document numbers reserved through redis")
	}

	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to message broker")
		}
		defer pub.Close()
		d.publisher = pub
		logger.Info().Str("exchange", cfg.EventsExchange).Msg("publishing domain events")
	}

	e := newServer(cfg, d)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newServer builds the echo instance with middleware and every route.
func newServer(cfg *config.Config, d deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(d.logger)

	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.Sanitize(d.logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if t := cfg.RequestTimeout(); t > 0 {
		e.Use(middleware.RequestTimeout(t))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.TenantHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(d.pool))

	apiV1 := e.Group("/api/v1")
	if cfg.RateLimitRPS > 0 {
		apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}))
	}
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
		jwtCfg.Optional = true
	}
	if !cfg.IsDev() || cfg.AuthSigningKey != "" || cfg.AuthJWKSURL != "" {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(db.TenantMiddleware(d.pool, cfg.DefaultTenant))
	apiV1.Use(middleware.Audit(d.logger))

	encOpts := []numbering.Option{}
	admOpts := []numbering.Option{}
	billOpts := []billing.Option{billing.WithInvoicePrefix(cfg.InvoicePrefix)}
	if d.reserver != nil {
		encOpts = append(encOpts, numbering.WithReserver(d.reserver))
		admOpts = append(admOpts, numbering.WithReserver(d.reserver))
		billOpts = append(billOpts, billing.WithNumberReserver(d.reserver))
	}

	encSvc := encounter.NewService(encounter.NewRepo(d.pool), d.tx, numbering.New(numbering.Encounter, encOpts...))
	encounter.NewHandler(encSvc).RegisterRoutes(apiV1)

	billSvc := billing.NewService(
		billing.NewCatalogRepoPG(d.pool),
		billing.NewChargeRepoPG(d.pool),
		billing.NewInvoiceRepoPG(d.pool),
		billing.NewPaymentRepoPG(d.pool),
		encSvc, d.tx, billOpts...,
	)
	billSvc.SetEventPublisher(d.publisher, d.logger)
	billing.NewHandler(billSvc).RegisterRoutes(apiV1)

	ipSvc := inpatient.NewService(inpatient.NewRepo(d.pool), encSvc, d.tx, numbering.New(numbering.Admission, admOpts...))
	ipSvc.SetEventPublisher(d.publisher, d.logger)
	inpatient.NewHandler(ipSvc).RegisterRoutes(apiV1)

	return e
}
