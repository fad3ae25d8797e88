// Package handlers implements the HTTP API surface.
//
// Handlers bind requests, call the lifecycle manager / batch
// coordinator / repository, and push errors into the centralized error
// handler via c.Error(). They never render error bodies themselves.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/hjimin027/kubdev-auto-system/internal/api/middleware"
	"github.com/hjimin027/kubdev-auto-system/internal/batch"
	"github.com/hjimin027/kubdev-auto-system/internal/lifecycle"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/metrics"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/worker"
	"github.com/hjimin027/kubdev-auto-system/internal/provider"
	"github.com/hjimin027/kubdev-auto-system/internal/quota"
	"github.com/hjimin027/kubdev-auto-system/internal/repository"
	"github.com/hjimin027/kubdev-auto-system/internal/service"
	"github.com/hjimin027/kubdev-auto-system/internal/stack"
)

// Server implements all API handlers.
type Server struct {
	store       *repository.Store
	manager     *lifecycle.Manager
	coordinator *batch.Coordinator
	adapter     provider.Adapter
	governor    *quota.Governor
	compiler    *stack.Compiler
	users       *service.UserService
	pools       *worker.Pools
	metrics     *metrics.Metrics
	jwtCfg      middleware.JWTConfig
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Store       *repository.Store
	Manager     *lifecycle.Manager
	Coordinator *batch.Coordinator
	Adapter     provider.Adapter
	Governor    *quota.Governor
	Compiler    *stack.Compiler
	Users       *service.UserService
	Pools       *worker.Pools
	Metrics     *metrics.Metrics
	JWTCfg      middleware.JWTConfig
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		store:       deps.Store,
		manager:     deps.Manager,
		coordinator: deps.Coordinator,
		adapter:     deps.Adapter,
		governor:    deps.Governor,
		compiler:    deps.Compiler,
		users:       deps.Users,
		pools:       deps.Pools,
		metrics:     deps.Metrics,
		jwtCfg:      deps.JWTCfg,
	}
}

// Router builds the gin engine with middleware and all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.ErrorHandler())

	r.GET("/health/live", s.GetLiveness)
	r.GET("/health/ready", s.GetReadiness)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", s.Register)
	v1.POST("/auth/login", s.Login)

	auth := v1.Group("")
	auth.Use(middleware.JWTAuth(s.jwtCfg.SigningKey))
	auth.GET("/auth/me", s.GetCurrentUser)

	auth.POST("/environments", s.CreateEnvironment)
	auth.GET("/environments", s.ListEnvironments)
	auth.GET("/environments/:id", s.GetEnvironment)
	auth.DELETE("/environments/:id", s.DeleteEnvironment)
	auth.POST("/environments/:id/actions", s.EnvironmentAction)
	auth.GET("/environments/:id/status", s.GetEnvironmentStatus)

	auth.GET("/templates", s.ListTemplates)
	auth.POST("/templates", s.CreateTemplate)
	auth.GET("/templates/:id", s.GetTemplate)
	auth.DELETE("/templates/:id", s.DeleteTemplate)
	auth.PATCH("/templates/:id/enabled", s.SetTemplateEnabled)
	auth.GET("/stacks", s.GetSupportedStacks)

	auth.POST("/batch", s.SubmitBatch)

	auth.GET("/cluster/overview", s.GetClusterOverview)
	auth.GET("/quota/ceiling", s.GetQuotaCeiling)

	return r
}
