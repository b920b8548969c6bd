// Package http exposes the purchase order services over a gin router.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	JWTSecret       string
	Version         string
	// PublicRatePerSecond and PublicBurst limit the token routes per client IP
	PublicRatePerSecond float64
	PublicBurst         int
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:                "0.0.0.0",
		Port:                8080,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		ShutdownTimeout:     10 * time.Second,
		Version:             "dev",
		PublicRatePerSecond: 1,
		PublicBurst:         10,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(services, config.Version, logger),
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestID())
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(CORS())
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	v1 := s.router.Group("/api/v1")

	public := v1.Group("/public")
	public.Use(NewIPRateLimiter(s.config.PublicRatePerSecond, s.config.PublicBurst).Middleware())
	{
		public.GET("/responses/:token", h.ViewResponseLink)
		public.POST("/responses/:token", h.SubmitResponse)
		public.GET("/deliveries/:token", h.ViewDeliveryLink)
		public.POST("/deliveries/:token", h.SubmitDelivery)
	}

	api := v1.Group("")
	api.Use(JWTAuth(s.config.JWTSecret, s.handlers.services.Identities))
	{
		orders := api.Group("/purchase-orders")
		orders.POST("", h.CreateOrder)
		orders.GET("", h.ListOrders)
		orders.GET("/:id", h.GetOrder)
		orders.DELETE("/:id", h.DeleteOrder)
		orders.GET("/:id/actions", h.AllowedActions)
		orders.GET("/:id/history", h.History)
		orders.GET("/:id/audit", h.AuditLog)
		orders.POST("/:id/accept", h.Accept)
		orders.POST("/:id/reject", h.Reject)
		orders.POST("/:id/modify", h.Modify)
		orders.POST("/:id/bulk-response", h.RespondBulk)
		orders.POST("/:id/modification/approve", h.ApproveModification)
		orders.POST("/:id/modification/reject", h.RejectModification)
		orders.POST("/:id/commit-partial", h.CommitPartial)
		orders.POST("/:id/fulfill", h.Fulfill)
		orders.POST("/:id/confirm-delivery", h.ConfirmDelivery)
		orders.POST("/:id/create-material", h.CreateMaterial)
		orders.POST("/:id/verify-receipt", h.VerifyReceipt)
		orders.POST("/:id/retry", h.Retry)
		orders.GET("/:id/alternatives", h.FindAlternatives)
		orders.POST("/:id/alternatives", h.SendToAlternatives)
		orders.POST("/:id/cancel", h.Cancel)

		api.GET("/rejection-reasons", h.RejectionReasons)

		api.GET("/suppliers", h.ListSuppliers)
		api.POST("/suppliers", h.CreateSupplier)

		api.GET("/projects/:id/budget", h.GetBudget)
		api.PUT("/projects/:id/budget", h.SetBudget)

		api.GET("/analytics/rejections", h.RejectionSummary)
		api.GET("/analytics/rejections/export", h.ExportRejectionSummary)

		api.GET("/notifications", h.ListNotifications)
		api.POST("/notifications/:id/read", h.MarkNotificationRead)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
