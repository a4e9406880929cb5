package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/app"
	iauth "github.com/gozman/bookshelf/internal/auth"
	"github.com/gozman/bookshelf/internal/handlers"
	"github.com/gozman/bookshelf/internal/middleware"
	"github.com/gozman/bookshelf/internal/services"
)

const defaultMetricsEndpoint = "/metrics"

// Deps collects everything the router needs. Everything except Cache is required.
type Deps struct {
	DB        *gorm.DB
	Config    *app.Config
	Sessions  *iauth.SessionService
	Accounts  *services.AccountService
	Carrier   iauth.Carrier
	RateStore middleware.RateStore

	// Cache is probed by /health when set.
	Cache handlers.Pinger
}

func (d Deps) validate() error {
	switch {
	case d.DB == nil:
		return errors.New("database handle must be provided")
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.Sessions == nil:
		return errors.New("session service must be provided")
	case d.Accounts == nil:
		return errors.New("account service must be provided")
	case d.Carrier == nil:
		return errors.New("credential carrier must be provided")
	case d.RateStore == nil:
		return errors.New("rate limit store must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	registerHealthRoutes(r, deps.DB, deps.Cache)
	if cfg.Monitoring.Prometheus.Enabled {
		registerMetricsRoute(r, metricsEndpoint(cfg.Monitoring.Prometheus.Endpoint))
	}

	v1 := r.Group("/api/v1")
	policies := cfg.Auth.RatePolicies()

	registerAuthRoutes(v1, authRouteDeps{
		Handler:   handlers.NewAuthHandler(deps.Accounts, deps.Carrier),
		RateStore: deps.RateStore,
		Policies:  policies,
	})

	requireAuth := middleware.Auth(deps.Sessions, deps.Carrier)
	registerUserRoutes(v1, handlers.NewUserHandler(deps.Sessions, cfg.Auth.SuspiciousIPThreshold()), requireAuth)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func metricsEndpoint(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultMetricsEndpoint
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
