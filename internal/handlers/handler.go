package handlers

import (
	"time"

	"beverage_dispenser/internal/logger"
	"beverage_dispenser/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services       *service.Service
	log            *logger.Logger
	streamInterval time.Duration
}

// Option customizes a Handler.
type Option func(*Handler)

// WithStreamInterval sets the default websocket push period.
func WithStreamInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 && d <= maxInterval {
			h.streamInterval = d
		}
	}
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger, opts ...Option) *Handler {
	h := &Handler{services: services, log: log, streamInterval: defaultInterval}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", h.health)

	h.registerAPIRoutes(router)

	return router
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		h.registerStationRoutes(api)
		h.registerLogRoutes(api)
		api.GET("/ws", h.wsConnect)
	}
}

func (h *Handler) registerStationRoutes(api *gin.RouterGroup) {
	// Body example: {"beverage":"beer","volume_ml":500}
	api.POST("/dispense", h.dispense)
	api.POST("/stop", h.stop)
	api.POST("/reset", h.resetSystem)
	api.POST("/stats/reset", h.resetStats)
	api.GET("/state", h.getState)
	api.GET("/errors", h.getErrors)
	api.GET("/beverages", h.getBeverages)

	maintenance := api.Group("/maintenance")
	{
		maintenance.POST("/enter", h.enterMaintenance)
		maintenance.POST("/exit", h.exitMaintenance)
		// Body example: {"speed":0.5,"duration_ms":2000}
		maintenance.POST("/conveyor", h.moveConveyor)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("", h.getLogs)
		logs.GET("/export", h.exportLogs)
	}
}
