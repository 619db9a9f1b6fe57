// Package server is the HTTP adapter: it translates requests into store,
// extraction and export calls. No business rule lives here.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/config"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/export"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/extraction"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/storage"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/store"
)

// Server is the HTTP server adapter
type Server struct {
	config     config.ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer wires the routes over the given services.
func NewServer(
	cfg config.ServerConfig,
	invoices *store.Store,
	orchestrator *extraction.Orchestrator,
	exporter *export.Service,
	files *storage.FileStore,
	searchablePDF bool,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config: cfg,
		router: router,
		logger: logger,
	}
	s.setupMiddleware()
	s.setupRoutes(invoices, orchestrator, exporter, files, searchablePDF)
	return s
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(corsMiddleware())
}

// loggingMiddleware logs one line per request
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.String("latency", time.Since(start).String()),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// corsMiddleware allows the browser front end to call the API from a
// different origin during development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(
	invoices *store.Store,
	orchestrator *extraction.Orchestrator,
	exporter *export.Service,
	files *storage.FileStore,
	searchablePDF bool,
) {
	handlers := NewHandlers(invoices, orchestrator, exporter, files, searchablePDF, s.logger)

	s.router.GET("/health", handlers.HealthCheck)
	s.router.Static(storage.URLPrefix, files.BaseDir())

	api := s.router.Group("/api")
	{
		api.POST("/invoices/upload", handlers.UploadInvoices)
		api.GET("/invoices", handlers.ListInvoices)
		api.GET("/invoices/:id", handlers.GetInvoice)
		api.GET("/invoices/:id/bounds", handlers.GetInvoiceBounds)
		api.PUT("/invoices/:id", handlers.UpdateInvoice)
		api.DELETE("/invoices/:id", handlers.DeleteInvoice)
		api.POST("/invoices/:id/select", handlers.SelectInvoice)
		api.POST("/invoices/:id/toggle", handlers.ToggleInvoice)
		api.POST("/invoices/select-all", handlers.SelectAll)

		api.GET("/areas", handlers.ListAreas)
		api.GET("/export/csv", handlers.ExportCSV)
		api.GET("/export/xlsx", handlers.ExportXLSX)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
