package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/apiserver/handlers"
	"github.com/billforge/billforge/pkg/apiserver/middleware"
	"github.com/billforge/billforge/pkg/auth"
	"github.com/billforge/billforge/pkg/catalog"
	"github.com/billforge/billforge/pkg/config"
	"github.com/billforge/billforge/pkg/eventbus"
	"github.com/billforge/billforge/pkg/integrity"
	"github.com/billforge/billforge/pkg/invoice"
	"github.com/billforge/billforge/pkg/quota"
	"github.com/billforge/billforge/pkg/store"
	redisclient "github.com/billforge/billforge/pkg/store/redis"
	"github.com/billforge/billforge/pkg/tenancy"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router   *gin.Engine
	store    store.Store
	redis    *redisclient.Client
	cfg      *config.Config
	logger   *zap.Logger
	tokens   *auth.TokenManager
	tenancy  *tenancy.Service
	catalog  *catalog.Service
	invoices *invoice.Service
}

// NewServer wires the domain services on top of st. redis and notifier may
// be nil.
func NewServer(st store.Store, redis *redisclient.Client, cfg *config.Config, logger *zap.Logger, notifier eventbus.Notifier) *Server {
	runner := store.NewRunner(st, cfg.Store.TxTimeout, notifier)
	engine := integrity.NewEngine(integrity.DefaultPolicy(cfg.Integrity.SoftDeleteIsDelete))
	quotas := quota.NewManager()

	allocator := invoice.NewAllocator(runner,
		invoice.Formatter{PadWidth: cfg.Invoice.PadWidth, Separator: cfg.Invoice.Separator},
		invoice.Options{
			MaxAttempts: cfg.Invoice.MaxAttempts,
			BaseBackoff: cfg.Invoice.BaseBackoff,
			MaxBackoff:  cfg.Invoice.MaxBackoff,
			Timeout:     cfg.Invoice.AllocTimeout,
		},
		logger,
	)

	s := &Server{
		store:    st,
		redis:    redis,
		cfg:      cfg,
		logger:   logger,
		tokens:   auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, cfg.Auth.Issuer),
		tenancy:  tenancy.NewService(runner, engine, quotas, logger),
		catalog:  catalog.NewService(runner, engine, quota.NewAdmissionController(quotas), logger),
		invoices: invoice.NewService(allocator, runner, engine, logger),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(s.cfg.Server.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", s.ready)

	tenantHandler := handlers.NewTenantHandler(s.tenancy, s.tokens, s.logger)
	orgHandler := handlers.NewOrganisationHandler(s.tenancy, s.logger)
	entityHandler := handlers.NewEntityHandler(s.catalog, s.logger)
	invoiceHandler := handlers.NewInvoiceHandler(s.invoices, s.logger)

	public := r.Group("/api/v1")
	public.POST("/tenants", tenantHandler.Create)

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.tokens))

		api.GET("/tenant", tenantHandler.Get)
		api.GET("/tenant/usage", tenantHandler.Usage)
		api.DELETE("/tenant", tenantHandler.Delete)

		api.POST("/organisations", orgHandler.Create)
		api.GET("/organisations", orgHandler.List)
		api.GET("/organisations/:id", orgHandler.Get)
		api.DELETE("/organisations/:id", orgHandler.Delete)
		api.POST("/organisations/:id/restore", orgHandler.Restore)

		api.POST("/organisations/:id/branches", orgHandler.CreateBranch)
		api.GET("/organisations/:id/branches", orgHandler.ListBranches)
		api.GET("/organisations/:id/branches/:branch_id", orgHandler.GetBranch)
		api.DELETE("/organisations/:id/branches/:branch_id", orgHandler.DeleteBranch)
		api.POST("/organisations/:id/branches/:branch_id/restore", orgHandler.RestoreBranch)

		api.POST("/organisations/:id/entities/:kind", entityHandler.Create)
		api.GET("/organisations/:id/entities/:kind", entityHandler.List)
		api.GET("/organisations/:id/entities/:kind/:entity_id", entityHandler.Get)
		api.PUT("/organisations/:id/entities/:kind/:entity_id", entityHandler.Update)
		api.DELETE("/organisations/:id/entities/:kind/:entity_id", entityHandler.Delete)
		api.POST("/organisations/:id/entities/:kind/:entity_id/restore", entityHandler.Restore)

		api.POST("/organisations/:id/invoices", invoiceHandler.Issue)
		api.GET("/organisations/:id/invoices", invoiceHandler.List)
		api.GET("/organisations/:id/invoices/:entity_id", invoiceHandler.Get)
		api.POST("/organisations/:id/invoices/:entity_id/void", invoiceHandler.Void)
		api.DELETE("/organisations/:id/invoices/:entity_id", invoiceHandler.Delete)
		api.POST("/organisations/:id/invoice-numbers", invoiceHandler.NextNumber)
		api.PUT("/organisations/:id/invoice-sequences/:prefix", invoiceHandler.SeedSequence)
		api.GET("/invoice-sequences", invoiceHandler.ListSequences)
	}

	s.router = r
}

// ready reports whether the store and redis answer.
func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			healthy = false
		} else {
			checks["store"] = "ok"
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Tokens() *auth.TokenManager {
	return s.tokens
}
