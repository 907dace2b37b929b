package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/querypilot/querypilot/pkg/catalog"
	"github.com/querypilot/querypilot/pkg/config"
	"github.com/querypilot/querypilot/pkg/handler"
	"github.com/querypilot/querypilot/pkg/service"
	"github.com/querypilot/querypilot/pkg/utils"
)

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	catalog   *catalog.Catalog
	store     *service.StoreService
	logger    *slog.Logger
	port      int
}

func NewServer(cfg *config.AppConfig) (*Server, error) {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost dev origins.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	cat, err := catalog.Open(cfg.DatabaseURI(), cfg.SampleRows())
	if err != nil {
		return nil, fmt.Errorf("open target database: %w", err)
	}

	store, err := service.NewStoreService(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate run store: %w", err)
	}

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		catalog:   cat,
		store:     store,
		logger:    utils.GetLogger(),
	}

	if err := server.SetupRoutes(); err != nil {
		return nil, err
	}

	return server, nil
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = s.catalog.Close()
	}()

	s.logger.Info("Server listening", "addr", addr)

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

func (s *Server) SetupRoutes() error {
	modelService := service.NewModelService(s.cfg)

	answerService, err := service.NewAnswerService(context.Background(), s.cfg, s.catalog, s.store, modelService)
	if err != nil {
		return fmt.Errorf("create answer service: %w", err)
	}

	askHandler := handler.NewAskHandler(answerService)

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	apiGroup.GET("/health", func(c *gin.Context) {
		if err := s.catalog.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "dialect": s.catalog.Dialect()})
	})

	// Question answering
	// /api/ask
	apiGroup.POST("/ask", askHandler.HandleAsk)
	apiGroup.POST("/ask/stream", askHandler.HandleAskStream)

	// Run history
	// /api/runs
	apiGroup.GET("/runs", askHandler.HandleListRuns)
	apiGroup.GET("/runs/:id", askHandler.HandleGetRun)

	return nil
}
