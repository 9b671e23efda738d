package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saker-ai/convai/pkg/convai"
)

// StartRequest is the body of POST /session/start. Empty fields fall back
// to the host configuration.
type StartRequest struct {
	Mode   string          `json:"mode"`
	BotID  string          `json:"bot_id"`
	Params json.RawMessage `json:"params"`
}

// MessageRequest is the body of POST /session/message.
type MessageRequest struct {
	Text   string `json:"text"`
	Binary bool   `json:"binary"`
	// ToolCallID makes the text a tool result for that call.
	ToolCallID string `json:"tool_call_id"`
}

// SessionStatus is the body of GET /session.
type SessionStatus struct {
	State         string `json:"state"`
	Mode          string `json:"mode,omitempty"`
	BotID         string `json:"bot_id,omitempty"`
	TranscriptUID string `json:"transcript_uid,omitempty"`
	TargetKbps    int    `json:"target_kbps"`
	BufferedBytes int    `json:"buffered_bytes"`
}

// Controller drives the session behind the router.
type Controller interface {
	Status() SessionStatus
	Start(ctx context.Context, req StartRequest) error
	Stop(ctx context.Context) error
	Interrupt(ctx context.Context) error
	Destroy()
	Message(ctx context.Context, req MessageRequest) error
}

// NewRouter builds the control API.
func NewRouter(ctrl Controller, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": convai.Version()})
	})

	session := router.Group("/session")
	session.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Status())
	})
	session.POST("/start", func(c *gin.Context) {
		var req StartRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		respond(c, ctrl, ctrl.Start(c.Request.Context(), req))
	})
	session.POST("/stop", func(c *gin.Context) {
		respond(c, ctrl, ctrl.Stop(c.Request.Context()))
	})
	session.POST("/interrupt", func(c *gin.Context) {
		respond(c, ctrl, ctrl.Interrupt(c.Request.Context()))
	})
	session.POST("/destroy", func(c *gin.Context) {
		ctrl.Destroy()
		respond(c, ctrl, nil)
	})
	session.POST("/message", func(c *gin.Context) {
		var req MessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, ctrl, ctrl.Message(c.Request.Context(), req))
	})

	return router
}

func respond(c *gin.Context, ctrl Controller, err error) {
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "state": ctrl.Status().State})
		return
	}
	c.JSON(http.StatusOK, ctrl.Status())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, convai.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, convai.ErrInvalidArgument), errors.Is(err, convai.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, convai.ErrModeUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, convai.ErrNetwork):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
		)
	}
}
