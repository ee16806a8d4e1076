package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/portfolio/internal/config"
	"github.com/Zachkp/portfolio/internal/contact"
	"github.com/Zachkp/portfolio/internal/logging"
	"github.com/Zachkp/portfolio/internal/mailer"
	"github.com/Zachkp/portfolio/internal/middleware"
	"github.com/Zachkp/portfolio/internal/stats"
)

const shutdownTimeout = 10 * time.Second

var otherMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodOptions, http.MethodConnect, http.MethodTrace,
}

// Server represents the HTTP server
type Server struct {
	cfg    *config.Config
	router *gin.Engine
	store  *stats.Store
	logger *logging.Logger
}

// New builds the router. store may be nil when metrics are disabled.
func New(cfg *config.Config, sender mailer.Sender, store *stats.Store, logger *logging.Logger) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DisableConsoleColor()
	gin.DefaultWriter = io.Discard

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	router.Use(middleware.Recovery(logger, contact.InternalError))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())

	if cfg.IsProduction() && cfg.SiteURL == "" {
		logger.Warn("SITE_URL is not set; auto-reply links will use the request Host header")
	}

	s := &Server{cfg: cfg, router: router, store: store, logger: logger}
	if err := s.routes(sender); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) routes(sender mailer.Sender) error {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	var recorder contact.Recorder
	if s.store != nil {
		recorder = s.store
	}

	relay := contact.NewRelay(s.cfg.ContactSettings(), sender, s.logger)
	handler := contact.NewHandler(relay, recorder, s.logger.With("contact"))
	if err := handler.TrustProxies(s.cfg.TrustedProxies); err != nil {
		return err
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		PerMinute: s.cfg.ContactRatePerMinute,
		Burst:     s.cfg.ContactRateBurst,
		OnLimit:   contact.TooManyRequests,
	})

	// Other methods reach the handler too so it can answer 405 itself.
	s.router.POST("/api/contact", limiter.Middleware(), handler.Submit)
	s.router.Match(otherMethods, "/api/contact", handler.Submit)

	if s.store != nil && s.cfg.AdminToken != "" {
		stats.SetupAdminRoutes(s.router, s.store, s.cfg.AdminToken, s.cfg.StatsRetention, s.logger.With("admin"))
		s.logger.Info("Admin metrics available at /admin/api/stats")
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on :%s", s.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
