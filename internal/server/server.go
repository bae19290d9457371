// Package server exposes the coordinator HTTP API: catalog listing, action
// dispatch (async and blocking), execution status/cancel and the SSE log
// stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kettleops/kettle"
	"github.com/kettleops/kettle/catalog"
	"github.com/kettleops/kettle/internal/broker"
	"github.com/kettleops/kettle/internal/dispatch"
	"github.com/kettleops/kettle/internal/stream"
)

// Pinger reports backing-store health for the health endpoint.
type Pinger func(ctx context.Context) error

// Server wires the HTTP surface over the dispatcher, catalog and streamer.
type Server struct {
	registry   *catalog.Registry
	dispatcher *dispatch.Dispatcher
	streamer   *stream.Streamer
	ping       Pinger
	logger     *zap.Logger
}

// New returns a Server.
func New(registry *catalog.Registry, d *dispatch.Dispatcher, s *stream.Streamer, ping Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{registry: registry, dispatcher: d, streamer: s, ping: ping, logger: logger}
}

// ExecuteRequest is the body of an execute call.
type ExecuteRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// ExecutionResponse acknowledges an async dispatch.
type ExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
	ActionName  string `json:"action_name"`
	Status      string `json:"status"`
	StreamURL   string `json:"stream_url"`
}

// SyncExecutionResponse carries the inline result of a blocking dispatch.
type SyncExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
	ActionName  string `json:"action_name"`
	Status      string `json:"status"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	api := r.Group("/api")
	{
		api.GET("/actions", s.listActions)
		api.POST("/actions/:name/execute", s.executeAction)
		api.POST("/actions/:name/sync_execute", s.syncExecuteAction)
		api.GET("/executions/:id/stream", s.streamLogs)
		api.GET("/executions/:id/status", s.getStatus)
		api.POST("/executions/:id/cancel", s.cancelExecution)
	}

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)

	return r
}

func (s *Server) listActions(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.All())
}

func (s *Server) executeAction(c *gin.Context) {
	name := c.Param("name")
	req, ok := s.bindExecuteRequest(c)
	if !ok {
		return
	}

	execID, err := s.dispatcher.Dispatch(c.Request.Context(), name, req.Parameters)
	if err != nil {
		s.dispatchError(c, name, err)
		return
	}

	c.JSON(http.StatusOK, ExecutionResponse{
		ExecutionID: execID,
		ActionName:  name,
		Status:      "submitted",
		StreamURL:   fmt.Sprintf("/api/executions/%s/stream", execID),
	})
}

func (s *Server) syncExecuteAction(c *gin.Context) {
	name := c.Param("name")
	req, ok := s.bindExecuteRequest(c)
	if !ok {
		return
	}

	execID, status, err := s.dispatcher.DispatchSync(c.Request.Context(), name, req.Parameters)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"detail": "Execution timed out", "execution_id": execID})
			return
		}
		s.dispatchError(c, name, err)
		return
	}

	resp := SyncExecutionResponse{
		ExecutionID: execID,
		ActionName:  name,
		Status:      status.State,
	}
	if status.State == kettle.StateSuccess {
		resp.Result = status.Info
	} else if msg, ok := status.Info.(string); ok {
		resp.Error = msg
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) bindExecuteRequest(c *gin.Context) (ExecuteRequest, bool) {
	var req ExecuteRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
			return req, false
		}
	}
	if req.Parameters == nil {
		req.Parameters = make(map[string]any)
	}
	return req, true
}

func (s *Server) dispatchError(c *gin.Context, name string, err error) {
	switch {
	case errors.Is(err, dispatch.ErrActionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("Action not found: %s", name)})
	case errors.Is(err, broker.ErrUnavailable):
		s.logger.Error("broker unavailable", zap.String("action", name), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Broker unavailable"})
	default:
		s.logger.Error("dispatch failed", zap.String("action", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Dispatch failed"})
	}
}

func (s *Server) streamLogs(c *gin.Context) {
	execID := c.Param("id")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Streaming unsupported"})
		return
	}

	send := func(event stream.Event) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.streamer.Stream(c.Request.Context(), execID, send); err != nil {
		s.logger.Warn("stream ended with error", zap.String("execution_id", execID), zap.Error(err))
	}
}

func (s *Server) getStatus(c *gin.Context) {
	status, err := s.dispatcher.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.dispatchError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) cancelExecution(c *gin.Context) {
	execID := c.Param("id")
	if err := s.dispatcher.Cancel(c.Request.Context(), execID); err != nil {
		s.dispatchError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"execution_id": execID, "status": "cancelled"})
}

func (s *Server) health(c *gin.Context) {
	if s.ping != nil {
		if err := s.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "detail": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) ready(c *gin.Context) {
	if s.registry.Len() == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "detail": "No actions loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "actions_count": s.registry.Len()})
}
