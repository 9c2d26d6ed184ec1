// Package api exposes the HTTP trigger and audit surface of kpiwatch.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/kination/kpiwatch/internal/controller"
	"github.com/kination/kpiwatch/internal/store"
)

var log = ctrl.Log.WithName("api")

// Server serves the HTTP API
type Server struct {
	handler *Handler
	server  *http.Server
}

// NewServer creates a server listening on addr
func NewServer(addr string, ctl *controller.Controller, st store.Store, events store.EventStore) *Server {
	h := NewHandler(ctl, st, events)
	return &Server{
		handler: h,
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(h),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewRouter registers every route of h on a new gin engine.
func NewRouter(h *Handler) *gin.Engine {
	// discard gin default log output
	gin.DefaultWriter = io.Discard

	router := gin.New()
	router.Use(gin.Recovery(), logMiddleware())

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/graphs", h.listGraphs)
		v1.GET("/graphs/:graph", h.getGraph)
		v1.POST("/graphs/:graph/runs", h.triggerRun)
		v1.GET("/graphs/:graph/runs", h.listRuns)
		v1.GET("/runs/:id", h.getRun)
		v1.DELETE("/runs/:id", h.cancelRun)
		v1.GET("/events", h.listEvents)
	}
	return router
}

// Run serves until ctx is done, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.V(1).Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String())
	}
}
