// Package api exposes templates, clone operations, exports and SOT state
// over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/api/handlers"
	"github.com/leozw/blueprint-sot/internal/api/middleware"
	"github.com/leozw/blueprint-sot/internal/config"
)

type Server struct {
	Config *config.Config
	Router *gin.Engine
	logger *zap.Logger
}

// NewServer builds the router. gatherer backs /metrics; pass the registry
// the metrics collector was created with.
func NewServer(cfg *config.Config, svc handlers.Services, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))

	server := &Server{
		Config: cfg,
		Router: router,
		logger: logger,
	}

	server.setupRoutes(handlers.NewHandler(svc, cfg.Instance, logger), gatherer)
	return server
}

func (s *Server) setupRoutes(h *handlers.Handler, gatherer prometheus.Gatherer) {
	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.Router.Group("/api/v1")
	if s.Config.Server.JWTSecret != "" {
		api.Use(middleware.AuthRequired(s.Config.Server.JWTSecret))
	} else {
		s.logger.Warn("No JWT secret configured, API authentication is disabled")
	}

	{
		api.GET("/templates", h.ListTemplates)
		api.POST("/templates", h.RegisterTemplate)
		api.GET("/templates/:id", h.GetTemplate)
		api.DELETE("/templates/:id", h.DeactivateTemplate)
	}

	{
		api.GET("/clones", h.ListClones)
		api.POST("/clones", h.RequestClone)
		api.GET("/clones/:id", h.GetClone)
	}

	{
		api.POST("/exports", h.CreateExport)
		api.GET("/exports/:id", h.GetExport)
	}

	{
		api.GET("/instances/:id", h.GetInstance)
		api.PUT("/instances/:id", h.UpdateInstance)
	}

	sotGroup := api.Group("/sot")
	{
		sotGroup.POST("/declare", h.Declare)
		sotGroup.POST("/checkin", h.CheckIn)
		sotGroup.GET("/status", h.Status)
		sotGroup.GET("/logs", h.Logs)
	}
}
