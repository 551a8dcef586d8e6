package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/kovra/internal/apikey"
	apikeydomain "github.com/smallbiznis/kovra/internal/apikey/domain"
	"github.com/smallbiznis/kovra/internal/apikey/usage"
	"github.com/smallbiznis/kovra/internal/apikey/validator"
	"github.com/smallbiznis/kovra/internal/audit"
	auditdomain "github.com/smallbiznis/kovra/internal/audit/domain"
	"github.com/smallbiznis/kovra/internal/auth"
	authdomain "github.com/smallbiznis/kovra/internal/auth/domain"
	"github.com/smallbiznis/kovra/internal/auth/jwks"
	"github.com/smallbiznis/kovra/internal/auth/scope"
	"github.com/smallbiznis/kovra/internal/auth/session"
	"github.com/smallbiznis/kovra/internal/auth/shadow"
	"github.com/smallbiznis/kovra/internal/auth/token"
	"github.com/smallbiznis/kovra/internal/config"
	"github.com/smallbiznis/kovra/internal/observability"
	"github.com/smallbiznis/kovra/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/kovra/internal/observability/metrics"
	obstracing "github.com/smallbiznis/kovra/internal/observability/tracing"
	"github.com/smallbiznis/kovra/internal/organization"
	organizationdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/smallbiznis/kovra/internal/ratelimit"
	"github.com/smallbiznis/kovra/internal/resource"
	resourcedomain "github.com/smallbiznis/kovra/internal/resource/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	Routes,
	fx.Invoke(run),
)

// Routes builds the routed Server and its services without binding a
// listener.
var Routes = fx.Options(
	fx.Provide(registerGin),
	organization.Module,
	ratelimit.Module,
	auth.Module,
	apikey.Module,
	resource.Module,
	audit.Module,
	fx.Provide(NewServer),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, debug bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware(debug))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics, cfg.IsDevelopment())
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	authsvc         authdomain.Service
	sessions        *session.Manager
	organizationSvc organizationdomain.Service
	apiKeySvc       apikeydomain.Service
	apiKeyValidator *validator.Validator
	usageRecorder   *usage.Recorder
	resourceSvc     resourcedomain.Service
	auditSvc        auditdomain.Service
	localTokens     *token.LocalTokens
	external        *token.ExternalValidator
	classifier      token.Classifier
	shadow          *shadow.Resolver
	jwks            *jwks.Resolver
	loginLimiter    *ratelimit.LoginLimiter
	obsMetrics      *obsmetrics.Metrics
	devBypass       *devBypass
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	Log               *zap.Logger
	Authsvc           authdomain.Service
	Sessions          *session.Manager
	OrganizationSvc   organizationdomain.Service
	APIKeySvc         apikeydomain.Service
	APIKeyValidator   *validator.Validator
	UsageRecorder     *usage.Recorder
	ResourceSvc       resourcedomain.Service
	AuditSvc          auditdomain.Service       `optional:"true"`
	LocalTokens       *token.LocalTokens        `optional:"true"`
	ExternalValidator *token.ExternalValidator  `optional:"true"`
	Classifier        token.Classifier
	Shadow            *shadow.Resolver
	JWKS              *jwks.Resolver          `optional:"true"`
	LoginLimiter      *ratelimit.LoginLimiter `optional:"true"`
	ObsMetrics        *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             log.Named("http.server"),
		authsvc:         p.Authsvc,
		sessions:        p.Sessions,
		organizationSvc: p.OrganizationSvc,
		apiKeySvc:       p.APIKeySvc,
		apiKeyValidator: p.APIKeyValidator,
		usageRecorder:   p.UsageRecorder,
		resourceSvc:     p.ResourceSvc,
		auditSvc:        p.AuditSvc,
		localTokens:     p.LocalTokens,
		external:        p.ExternalValidator,
		classifier:      p.Classifier,
		shadow:          p.Shadow,
		jwks:            p.JWKS,
		loginLimiter:    p.LoginLimiter,
		obsMetrics:      p.ObsMetrics,
		devBypass:       newDevBypass(p.Cfg, log),
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/login", s.LoginThrottle(), s.Login)
	auth.POST("/refresh", s.Refresh)
	auth.POST("/logout", s.OptionalAuth(), s.Logout)
	auth.GET("/me", s.Authenticate(), s.Me)
	auth.POST("/change-password", s.Authenticate(), s.RequireSource(principal.SourceLocal), s.ChangePassword)

	user := auth.Group("/user", s.Authenticate())
	{
		user.GET("/orgs", s.ListUserOrgs)
	}
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.Authenticate())

	// -------- API Keys --------
	keys := api.Group("/keys", s.RequireSource(principal.SourceLocal, principal.SourceExternal, principal.SourceDevBypass))
	{
		keys.GET("", s.ListAPIKeys)
		keys.POST("", s.CreateAPIKey)
		keys.GET("/scopes", s.ListAPIKeyScopes)
		keys.GET("/:id", s.GetAPIKey)
		keys.POST("/:id/regenerate", s.RegenerateAPIKey)
		keys.POST("/:id/revoke", s.RevokeAPIKey)
		keys.DELETE("/:id", s.DeleteAPIKey)
	}

	// -------- Resources --------
	api.GET("/resources", s.RequireScope(scope.ScopeResourcesRead), s.ListResources)
	api.GET("/resources/:id", s.RequireScope(scope.ScopeResourcesRead), s.GetResource)
	api.POST("/resources",
		s.RequireScope(scope.ScopeResourcesWrite),
		s.RequireRole(principal.RoleOwner, principal.RoleAdmin, principal.RoleDeveloper),
		s.CreateResource,
	)
	api.DELETE("/resources/:id", s.RequireScope(scope.ScopeResourcesWrite), s.DeleteResource)

	// -------- Workflows --------
	api.POST("/workflows/:workflowId/execute",
		s.RequireScope(scope.ScopeWorkflowsExecute),
		s.CheckWorkflowAccess("workflowId"),
		s.ExecuteWorkflow,
	)

	// -------- Audit --------
	api.GET("/audit-logs",
		s.RequireSource(principal.SourceLocal, principal.SourceExternal, principal.SourceDevBypass),
		s.RequireRole(principal.RoleOwner, principal.RoleAdmin),
		s.ListAuditLogs,
	)

	// -------- Features --------
	api.GET("/features/:feature", s.CheckPermission(":feature", "read"), s.GetFeature)

	// -------- Admin --------
	admin := api.Group("/admin",
		s.RequireSource(principal.SourceLocal, principal.SourceDevBypass),
		s.RequireRole(principal.RoleOwner, principal.RoleAdmin),
	)
	{
		admin.GET("/jwks", s.ListJWKSKeys)
		admin.POST("/jwks/refresh", s.RefreshJWKS)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
