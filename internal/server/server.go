// Package server assembles the HTTP API from the service route sets.
package server

import (
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/artifact"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/notify"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/redis"
	"github.com/JonasLeetTheWay/campus-events/internal/services/admin"
	"github.com/JonasLeetTheWay/campus-events/internal/services/booking"
	"github.com/JonasLeetTheWay/campus-events/internal/services/event"
	"github.com/JonasLeetTheWay/campus-events/internal/services/gateway"
	"github.com/JonasLeetTheWay/campus-events/internal/storage"
	"github.com/JonasLeetTheWay/campus-events/internal/workflow"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Store    *storage.Store
	Workflow *workflow.Service
	Issuer   *artifact.Issuer
	Settings *notify.Settings
	Logger   observability.Logger

	// Now overrides the clock used for schedule checks.
	Now func() time.Time
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	corsCfg.AddAllowHeaders("Authorization", booking.IdempotencyHeader, observability.RequestIDHeader)
	if len(d.Config.CORSOrigins) == 0 || d.Config.CORSOrigins[0] == "*" {
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = d.Config.CORSOrigins
	}

	r.Use(
		gin.Recovery(),
		cors.New(corsCfg),
		observability.RequestID(),
		observability.Tracing(),
		observability.AccessLog(d.Logger),
	)
	r.MaxMultipartMemory = d.Config.MaxUploadBytes()

	events := event.NewService(d.Config, d.DB, d.Store, d.Workflow, d.Issuer, d.Logger)
	admins := admin.NewService(d.Config, d.DB, d.Settings, d.Logger)
	if d.Now != nil {
		events.WithClock(d.Now)
		admins.WithClock(d.Now)
	}

	gateway.NewService(d.Config, d.DB, d.Redis).SetupRoutes(r)
	events.SetupRoutes(r)
	booking.NewService(d.Config, d.DB, d.Redis, d.Workflow, d.Issuer, d.Logger).SetupRoutes(r)
	admins.SetupRoutes(r)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.StaticFS("/uploads", d.Store.Public())

	return r
}
