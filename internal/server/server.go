// Package server exposes a Session over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hipsterbrown/servobus/internal/config"
	"github.com/hipsterbrown/servobus/session"
)

// Server holds all dependencies for routing
type Server struct {
	config   *config.Config
	session  *session.Session
	logger   *zap.Logger
	upgrader websocket.Upgrader
	engine   *gin.Engine
}

// New creates a server and configures its routes.
func New(cfg *config.Config, s *session.Session, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{
		config:  cfg,
		session: s,
		logger:  logger.Named("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
		},
	}
	srv.engine = srv.setupRouter()
	return srv
}

// Handler returns the configured gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()

	router.Use(recoveryMiddleware(s.logger))
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(s.logger))
	router.Use(corsMiddleware(s.config.Server.AllowedOrigins))

	api := router.Group("/api/v1")
	{
		api.GET("/ports", s.listPorts)
		api.GET("/session", s.sessionState)
		api.POST("/connection", s.openConnection)
		api.DELETE("/connection", s.closeConnection)
		api.POST("/scan/cancel", s.cancelScan)
		api.POST("/servos/:id/write", s.writeAddress)
		api.GET("/models", s.listModels)
		api.GET("/models/:number", s.getModel)
	}

	ws := router.Group("/ws")
	{
		ws.GET("/scan", s.scanSocket)
		ws.GET("/read", s.readSocket)
	}

	return router
}

// Run serves until ctx is done, then shuts down the HTTP server and
// releases the session.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.config.ServerAddr(),
		Handler:      s.engine,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return multierr.Append(err, s.session.Close())
		}
		return s.session.Close()
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.WriteTimeout)
	defer cancel()

	s.session.CancelScan()
	return multierr.Combine(
		httpServer.Shutdown(shutdownCtx),
		s.session.Close(),
	)
}
