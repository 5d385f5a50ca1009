package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/studyowl/creditgate/internal/admission"
	"github.com/studyowl/creditgate/internal/audit"
	auditdomain "github.com/studyowl/creditgate/internal/audit/domain"
	"github.com/studyowl/creditgate/internal/auth"
	authdomain "github.com/studyowl/creditgate/internal/auth/domain"
	"github.com/studyowl/creditgate/internal/auth/session"
	"github.com/studyowl/creditgate/internal/catalog"
	"github.com/studyowl/creditgate/internal/config"
	"github.com/studyowl/creditgate/internal/gateway"
	"github.com/studyowl/creditgate/internal/intent"
	"github.com/studyowl/creditgate/internal/ledger"
	ledgerdomain "github.com/studyowl/creditgate/internal/ledger/domain"
	"github.com/studyowl/creditgate/internal/metrics"
	"github.com/studyowl/creditgate/internal/purchase"
	purchasedomain "github.com/studyowl/creditgate/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	audit.Module,
	auth.Module,
	catalog.Module,
	intent.Module,
	ledger.Module,
	gateway.Module,
	admission.Module,
	metrics.Module,
	purchase.Module,
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestContextMiddleware())
	r.Use(RequestLoggingMiddleware(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	sessions    *session.Manager
	authSvc     authdomain.Service
	auditSvc    auditdomain.Service
	ledgerSvc   ledgerdomain.Service
	purchaseSvc purchasedomain.Service
	catalog     *catalog.Catalog
	metrics     *metrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Sessions    *session.Manager
	AuthSvc     authdomain.Service
	AuditSvc    auditdomain.Service
	LedgerSvc   ledgerdomain.Service
	PurchaseSvc purchasedomain.Service
	Catalog     *catalog.Catalog
	Metrics     *metrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("server"),
		genID:       p.GenID,
		sessions:    p.Sessions,
		authSvc:     p.AuthSvc,
		auditSvc:    p.AuditSvc,
		ledgerSvc:   p.LedgerSvc,
		purchaseSvc: p.PurchaseSvc,
		catalog:     p.Catalog,
		metrics:     p.Metrics,
	}

	s.registerRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/auth/dev-login", s.DevLogin)
	api.POST("/auth/logout", s.Logout)
	api.GET("/packages", s.ListPackages)

	authed := api.Group("", s.AuthRequired())
	{
		authed.GET("/me", s.Me)
		authed.POST("/orders", s.CreateOrder)
		authed.POST("/orders/capture", s.CaptureOrder)
		authed.GET("/balance", s.GetBalance)
		authed.POST("/usage", s.DebitUsage)
	}
}
