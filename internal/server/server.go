package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/rezonia/invoice-pipeline/internal/app"
	"github.com/rezonia/invoice-pipeline/internal/audit"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/storage"
)

// Config holds server configuration
type Config struct {
	Address         string
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
}

// Server represents the HTTP API server
type Server struct {
	config *Config
	router *gin.Engine
	app    *app.App
	logger *slog.Logger
}

// NewServer creates a new API server over a wired pipeline
func NewServer(config *Config, a *app.App) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}
	router.Use(corsMiddleware(config.CORSOrigins))

	s := &Server{
		config: config,
		router: router,
		app:    a,
		logger: a.Logger.With("module", "server"),
	}

	s.setupRoutes()
	return s
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-User-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Signed downloads for the local object store
	if s.app.Files != nil {
		s.router.GET("/files/:bucket/*key", s.handleDownload)
	}

	v1 := s.router.Group("/api/v1")
	{
		// Issuing
		v1.POST("/orders/:order_id/invoice", s.handleStoreInvoice)
		v1.POST("/orders/:order_id/invoice/email", s.handleSendEmail)

		// Invoice lifecycle
		v1.GET("/invoices/:id", s.handleGetInvoice)
		v1.POST("/invoices/:id/validate", s.handleValidateAll)
		v1.POST("/invoices/:id/validate/:type", s.handleValidateOne)
		v1.POST("/invoices/:id/sms", s.handleSendSMS)
		v1.POST("/invoices/:id/retrieve", s.handleRetrieve)

		// Dashboard queries
		v1.GET("/invoices/:id/audit", s.handleAuditLog)
		v1.GET("/validation-results", s.handleValidationResults)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   s.app.Clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	bucket := c.Param("bucket")
	key := strings.TrimPrefix(c.Param("key"), "/")
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing download token"})
		return
	}
	if err := s.app.Files.VerifyToken(token, bucket, key); err != nil {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: storage.ErrInvalidToken.Error()})
		return
	}
	content, err := s.app.Files.Get(c.Request.Context(), bucket, key)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(key)))
	c.Data(http.StatusOK, contentTypeFor(key), content)
}

// actor identifies the caller for audit entries
func actor(c *gin.Context) audit.Actor {
	return audit.Actor{
		UserID:    c.GetHeader("X-User-ID"),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// writeError maps pipeline errors onto HTTP statuses
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func statusFor(err error) (int, string) {
	var (
		deliveryErr *model.DeliveryError
		assemblyErr *model.AssemblyError
		renderErr   *model.RenderError
		storageErr  *model.StorageError
	)
	switch {
	case errors.As(err, &deliveryErr):
		return http.StatusBadGateway, "DELIVERY_FAILED"
	case errors.As(err, &assemblyErr):
		return http.StatusUnprocessableEntity, "ASSEMBLY_FAILED"
	case errors.As(err, &renderErr):
		return http.StatusUnprocessableEntity, "RENDER_FAILED"
	case errors.As(err, &storageErr):
		switch storageErr.Code {
		case model.ErrCodeFileTooLarge:
			return http.StatusRequestEntityTooLarge, storageErr.Code
		case model.ErrCodeContentType:
			return http.StatusUnsupportedMediaType, storageErr.Code
		case model.ErrCodeObjectNotFound:
			return http.StatusNotFound, storageErr.Code
		case model.ErrCodeInvalidObjectPath:
			return http.StatusBadRequest, storageErr.Code
		}
		return http.StatusBadGateway, storageErr.Code
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, model.ErrArtifactsChanged):
		return http.StatusConflict, "ARTIFACTS_CHANGED"
	case errors.Is(err, model.ErrNotStored), errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, model.ErrInvalidPIN):
		return http.StatusForbidden, "INVALID_PIN"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	return http.StatusInternalServerError, ""
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".xml":
		return "application/xml"
	}
	return "application/octet-stream"
}
