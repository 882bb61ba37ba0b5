// Package server exposes the metering API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/evalhub/meterd/internal/cache"
	"github.com/evalhub/meterd/internal/config"
	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

type ServerParam struct {
	fx.In

	Engine           *gin.Engine
	Config           config.Config
	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	MeterSvc         meterdomain.Service
	SubscriptionRepo subscriptiondomain.Repository
	SubCache         *cache.SubscriptionCache `optional:"true"`
}

type Server struct {
	engine           *gin.Engine
	cfg              config.Config
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	meterSvc         meterdomain.Service
	subscriptionRepo subscriptiondomain.Repository
	subCache         *cache.SubscriptionCache
}

func NewServer(p ServerParam) *Server {
	return &Server{
		engine:           p.Engine,
		cfg:              p.Config,
		db:               p.DB,
		log:              p.Log.Named("http.server"),
		genID:            p.GenID,
		meterSvc:         p.MeterSvc,
		subscriptionRepo: p.SubscriptionRepo,
		subCache:         p.SubCache,
	}
}

func (s *Server) RegisterAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.RequestID())
	v1.Use(s.OrgContext())

	meters := v1.Group("/meters")
	meters.POST("/check", s.CheckMeter)
	meters.POST("/adjust", s.AdjustMeter)
	meters.GET("", s.ListMeters)

	subscriptions := v1.Group("/subscriptions")
	subscriptions.GET("", s.ListSubscriptions)
	subscriptions.PUT("", s.UpsertSubscription)
}

func registerRoutes(s *Server) {
	s.RegisterAPIRoutes()
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
