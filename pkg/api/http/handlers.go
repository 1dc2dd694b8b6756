package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/kanban-live/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// BroadcastResponse reports how many connections a side-channel envelope was queued for
type BroadcastResponse struct {
	Type      domain.EventType `json:"type"`
	Delivered int              `json:"delivered"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"hub":               "ok",
			"connected_clients": s.hub.Count(),
		},
	})
}

// handleBroadcast relays an envelope pushed by the relay to every connection
func (s *Server) handleBroadcast(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBroadcastBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: ErrorDetail{Code: "TOO_LARGE", Message: err.Error()},
			})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	env, err := domain.DecodeEnvelope(body)
	if err != nil {
		s.logger.Warn("invalid side-channel envelope", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_ENVELOPE", Message: err.Error()},
		})
		return
	}

	delivered := s.hub.Broadcast(body, nil)
	s.logger.Debug("side-channel envelope broadcast",
		zap.String("type", string(env.Type)),
		zap.Int("delivered", delivered))

	c.JSON(http.StatusAccepted, BroadcastResponse{Type: env.Type, Delivered: delivered})
}

// handleRecentActivity returns the latest activity entries, newest first
func (s *Server) handleRecentActivity(c *gin.Context) {
	limit := s.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{Code: "INVALID_LIMIT", Message: "limit must be a positive integer"},
			})
			return
		}
		if n < limit {
			limit = n
		}
	}

	if s.recent == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{Code: "ACTIVITY_NOT_AVAILABLE", Message: "Recent activity is not configured"},
		})
		return
	}

	views, err := s.recent.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list recent activity", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "ACTIVITY_ERROR",
				Message: "Failed to retrieve recent activity",
				Details: err.Error(),
			},
		})
		return
	}
	if views == nil {
		views = []domain.ActivityView{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  views,
		"total": len(views),
		"limit": limit,
	})
}

// handleHubStats returns live hub statistics
func (s *Server) handleHubStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": s.hub.Stats(),
	})
}
