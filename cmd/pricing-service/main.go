package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"pricing-service/internal/api"
	"pricing-service/internal/config"
	"pricing-service/internal/consumer"
	"pricing-service/internal/repository"
	"pricing-service/internal/rulepack"
	"pricing-service/internal/service"
	"pricing-service/internal/tenant"
	"pricing-service/migrations"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "pricing-service").Logger()

// connectDB opens a tenant database, retrying until it answers a ping.
func connectDB(tenantKey, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DSN for tenant %s: %w", tenantKey, err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	var db *sql.DB
	for i := 0; i < 10; i++ {
		db, err = sql.Open("mysql", cfg.FormatDSN())
		if err == nil {
			err = db.Ping()
			if err == nil {
				db.SetMaxOpenConns(25)
				db.SetMaxIdleConns(25)
				db.SetConnMaxLifetime(5 * time.Minute)
				logger.Info().Str("tenant", tenantKey).Msgf("Connected to DB %s", cfg.DBName)
				return db, nil
			}
			db.Close()
		}
		logger.Warn().Err(err).Str("tenant", tenantKey).Msgf("Retry %d: failed to connect to DB %s (%s)", i+1, cfg.DBName, cfg.Addr)
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to DB of tenant %s after retries: %w", tenantKey, err)
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
	if len(cfg.Tenants) == 0 {
		logger.Fatal().Msg("No tenants configured, set TENANTS=key=dsn;...")
	}

	// Step 1: connect every tenant database and create missing tables
	dbs := make(map[string]*sql.DB, len(cfg.Tenants))
	for _, key := range cfg.TenantKeys() {
		db, err := connectDB(key, cfg.Tenants[key])
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect tenant database")
		}
		dbs[key] = db
	}
	router := tenant.NewRouter(dbs)
	defer router.Close()

	all := make([]*sql.DB, 0, len(dbs))
	for _, key := range router.Tenants() {
		all = append(all, dbs[key])
	}
	if err := migrations.AutoMigratePricingRules(3, all...); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate pricing rule tables")
	}
	if err := migrations.AutoMigrateDocuments(3, all...); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate document tables")
	}

	// Step 2: shared infrastructure
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	ruleWriter := config.NewKafkaWriter(cfg.KafkaBrokers, cfg.RuleTopic)
	defer ruleWriter.Close()
	documentWriter := config.NewKafkaWriter(cfg.KafkaBrokers, cfg.DocumentTopic)
	defer documentWriter.Close()

	// Step 3: repositories and services
	ruleRepo := repository.NewRuleRepository(router)
	documentRepo := repository.NewDocumentRepository(router)
	ruleCache := repository.NewCachedRuleStore(ruleRepo, rdb, cfg.RuleCacheTTL)

	pricingService := service.NewPricingService(ruleCache, ruleRepo)
	ruleService := service.NewRuleService(ruleRepo, ruleCache, ruleWriter)
	documentService := service.NewDocumentService(documentRepo, pricingService, ruleRepo, ruleCache, documentWriter, rdb)

	if cfg.SeedRulePack != "" {
		seed(cfg.SeedRulePack, router.Tenants(), ruleService)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// consumer
	reader := config.NewKafkaReader(cfg.KafkaBrokers, cfg.RuleTopic, cfg.ConsumerGroupID)
	ruleConsumer := consumer.NewConsumer(reader, ruleCache)
	go func() {
		if err := ruleConsumer.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("Rule change consumer stopped")
		}
	}()

	// Step 4: HTTP server
	e := echo.New()
	e.HideBanner = true

	limiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     cfg.RateBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "unable to identify client"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		},
	}

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RateLimiterWithConfig(limiterConfig))

	api.Register(e, cfg.JWTSecret, router, api.Handlers{
		Pricing:   api.NewPricingHandler(pricingService),
		Rules:     api.NewRuleHandler(ruleService),
		Documents: api.NewDocumentHandler(documentService),
	})

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shut down server")
	}
}

// seed loads the rule pack into every tenant whose store has no rules yet.
func seed(path string, tenants []string, ruleService *service.RuleService) {
	storeID, rules, err := rulepack.LoadFile(path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load seed rule pack")
	}
	for _, key := range tenants {
		ctx := tenant.WithTenant(context.Background(), key)
		n, err := rulepack.Seed(ctx, ruleService, storeID, rules)
		if err != nil {
			logger.Error().Err(err).Str("tenant", key).Msgf("Error seeding rules of store %d", storeID)
			continue
		}
		if n > 0 {
			logger.Info().Str("tenant", key).Msgf("Seeded %d rules into store %d", n, storeID)
		}
	}
}
