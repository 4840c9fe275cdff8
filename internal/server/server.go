// Package server exposes the pipeline's operational HTTP surface: health,
// fleet status, the delivery attempt log, cache invalidation, and the live
// alert stream.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	coreerrors "github.com/trucktrack/alert-pipeline/internal/core/errors"
	"github.com/trucktrack/alert-pipeline/internal/dispatch"
	"github.com/trucktrack/alert-pipeline/internal/pipeline"
	"github.com/trucktrack/alert-pipeline/internal/poscache"
	"github.com/trucktrack/alert-pipeline/internal/ws"
)

const defaultAttemptsLimit = 50

// HealthChecker is an interface for components that can report their health status.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Engine *gin.Engine
	Addr   string

	db        *sql.DB
	cachePing HealthChecker
	cache     poscache.Store
	fleet     *pipeline.Fleet
	attempts  dispatch.AttemptStore
	hub       *ws.Hub
}

func New(
	addr string,
	mode string,
	db *sql.DB,
	cachePing HealthChecker,
	cache poscache.Store,
	fleet *pipeline.Fleet,
	attempts dispatch.AttemptStore,
	hub *ws.Hub,
) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine:   r,
		Addr:     addr,
		db:        db,
		cachePing: cachePing,
		cache:     cache,
		fleet:     fleet,
		attempts:  attempts,
		hub:       hub,
	}

	r.GET("/health", s.healthHandler)

	api := r.Group("/v1")
	api.GET("/vehicles", s.listVehiclesHandler)
	api.GET("/vehicles/:vehicle_id", s.vehicleHandler)
	api.GET("/attempts", s.attemptsHandler)
	api.POST("/cache/invalidate/:vehicle_id", s.invalidateCacheHandler)
	api.GET("/stream", gin.WrapF(s.hub.Handle))

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			slog.Error("Health check failed: database unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
	}

	// The cache is an optimization: an unreachable cache degrades the service
	// but does not make it unhealthy.
	cacheStatus := "connected"
	if s.cachePing != nil {
		if err := s.cachePing.Ping(ctx); err != nil {
			slog.Warn("Health check: position cache unreachable", "error", err)
			cacheStatus = "unreachable"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"database":       "connected",
		"position_cache": cacheStatus,
		"ws_clients":     s.hub.ClientCount(),
	})
}

func (s *Server) listVehiclesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"vehicles": s.fleet.Snapshot()})
}

func (s *Server) vehicleHandler(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	status, ok := s.fleet.Get(vehicleID)
	if !ok {
		c.JSON(http.StatusNotFound, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpNotFoundError,
			Message:   "no reports received for vehicle " + vehicleID,
		})
		return
	}

	resp := gin.H{"status": status}
	if pos, err := s.cache.Get(c.Request.Context(), vehicleID); err == nil {
		resp["cached_position"] = pos
	} else if !errors.Is(err, poscache.ErrMiss) {
		slog.Warn("Cached position lookup failed", "vehicle_id", vehicleID, "error", err)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) attemptsHandler(c *gin.Context) {
	if alertID := c.Query("alert_id"); alertID != "" {
		attempts, err := s.attempts.ListByAlert(c.Request.Context(), alertID)
		if err != nil {
			slog.Error("Failed to list attempts for alert", "alert_id", alertID, "error", err)
			c.JSON(http.StatusInternalServerError, coreerrors.ErrorResponse{
				ErrorType: coreerrors.HttpInternalError,
				Message:   "failed to load delivery attempts",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attempts": attempts})
		return
	}

	limit := defaultAttemptsLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
				ErrorType: coreerrors.HttpInvalidParamError,
				Message:   "limit must be an integer between 1 and 1000",
			})
			return
		}
		limit = parsed
	}

	attempts, err := s.attempts.ListRecent(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Failed to list recent attempts", "error", err)
		c.JSON(http.StatusInternalServerError, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInternalError,
			Message:   "failed to load delivery attempts",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

// invalidateCacheHandler drops a vehicle's cached position. Advisory: the
// next report repopulates the entry.
func (s *Server) invalidateCacheHandler(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")
	if err := s.cache.Invalidate(c.Request.Context(), vehicleID); err != nil {
		slog.Error("Cache invalidation failed", "vehicle_id", vehicleID, "error", err)
		c.JSON(http.StatusInternalServerError, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInternalError,
			Message:   "failed to invalidate cached position",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": vehicleID})
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
