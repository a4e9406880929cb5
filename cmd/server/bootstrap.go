package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/api"
	"github.com/gozman/bookshelf/internal/app"
	"github.com/gozman/bookshelf/internal/app/maintenance"
	iauth "github.com/gozman/bookshelf/internal/auth"
	"github.com/gozman/bookshelf/internal/auth/providers"
	"github.com/gozman/bookshelf/internal/cache"
	"github.com/gozman/bookshelf/internal/database"
	"github.com/gozman/bookshelf/internal/handlers"
	"github.com/gozman/bookshelf/internal/middleware"
	"github.com/gozman/bookshelf/internal/services"
	"github.com/gozman/bookshelf/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *cache.RedisStore
	SessionSvc *iauth.SessionService
	AuditSvc   *services.AuditService
	Accounts   *services.AccountService
	Cleaner    *maintenance.Cleaner
	RateStore  middleware.RateStore
	Router     *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed rate limiting", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	stack.SessionSvc, err = iauth.NewSessionService(stack.DB, cfg.Auth.SessionServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	provider, err := providers.NewLocalProvider(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise local provider: %w", err)
	}

	mailer, err := cfg.Email.BuildMailer(logger.WithModule("mail"))
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	stack.Accounts, err = services.NewAccountService(stack.DB, provider, stack.SessionSvc, mailer,
		services.WithBaseURL(cfg.Email.BaseURL),
		services.WithAppName(cfg.Email.AppName),
		services.WithVerificationExpiry(cfg.Auth.Tokens.VerificationTTL),
		services.WithResetExpiry(cfg.Auth.Tokens.ResetTTL),
		services.WithAuditService(stack.AuditSvc),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise account service: %w", err)
	}

	carrier, err := buildCarrier(cfg)
	if err != nil {
		return nil, err
	}

	jobs := maintenance.Jobs{
		Sessions: stack.SessionSvc,
		Tokens:   stack.Accounts,
		Audit:    stack.AuditSvc,
	}
	var cacheProbe handlers.Pinger
	if stack.Redis != nil {
		stack.RateStore = middleware.NewCacheRateStore(stack.Redis)
		cacheProbe = stack.Redis
	} else {
		stack.RateStore = middleware.NewCacheRateStore(dbStore)
		jobs.Cache = dbStore
	}

	stack.Cleaner = maintenance.NewCleaner(jobs,
		maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
		maintenance.WithTokenSchedule(cfg.Maintenance.TokenSchedule),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Deps{
		DB:        stack.DB,
		Config:    cfg,
		Sessions:  stack.SessionSvc,
		Accounts:  stack.Accounts,
		Carrier:   carrier,
		RateStore: stack.RateStore,
		Cache:     cacheProbe,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	log.Info("runtime ready",
		zap.String("transport", carrier.Name()),
		zap.Bool("redis", stack.Redis != nil),
	)

	success = true
	return stack, nil
}

func buildCarrier(cfg *app.Config) (iauth.Carrier, error) {
	transport := cfg.Auth.Transport()

	var signer *iauth.CookieSigner
	if transport == iauth.TransportCookie {
		secret, err := cfg.Auth.CookieSecret()
		if err != nil {
			return nil, fmt.Errorf("decode cookie secret: %w", err)
		}
		if signer, err = iauth.NewCookieSigner(secret); err != nil {
			return nil, fmt.Errorf("initialise cookie signer: %w", err)
		}
	}

	carrier, err := iauth.NewCarrier(transport, signer, cfg.Auth.CookieOptions(cfg.Server.IsProduction()))
	if err != nil {
		return nil, fmt.Errorf("initialise credential carrier: %w", err)
	}
	return carrier, nil
}

// Shutdown stops background jobs, runs a final cleanup pass and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
		s.Cleaner = nil
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
		s.Redis = nil
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		s.DB = nil
	}
}

func initialiseDatabase(ctx context.Context, cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.OpenWithRetry(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
