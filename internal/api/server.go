// Package api serves the tool layer over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pricebot/internal/agent"
	"pricebot/internal/config"
	"pricebot/internal/domain"
	"pricebot/internal/metrics"
	"pricebot/internal/provider"
)

const maxBodySize = 1 << 20

// Turn is the slice of agent.Turn the API drives.
type Turn interface {
	Capabilities(conversationID string) []domain.CapabilityDescriptor
	Invoke(ctx context.Context, conversationID string, calls []domain.ToolCall, locale string) ([]domain.Envelope, error)
	DeferAs(ctx context.Context, taskID, conversationID string, envelopes []domain.Envelope) bool
	Task(id string) (agent.BackgroundTask, bool)
	Active() []agent.BackgroundTask
}

// Assistant answers free-text messages; optional.
type Assistant interface {
	Chat(ctx context.Context, conversationID, text, locale string) (provider.Reply, error)
}

type Config struct {
	API       config.APIConfig
	Metrics   config.MetricsConfig
	Turn      Turn
	Assistant Assistant
	Logger    *slog.Logger
}

type Server struct {
	cfg       config.APIConfig
	turn      Turn
	assistant Assistant
	engine    *gin.Engine
	logger    *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg.API,
		turn:      cfg.Turn,
		assistant: cfg.Assistant,
		engine:    gin.New(),
		logger:    cfg.Logger.With("component", "api"),
	}

	r := s.engine
	r.Use(gin.Recovery(), s.requestLog())
	if len(cfg.API.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.API.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}
	r.GET("/healthz", s.health)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Endpoint, gin.WrapF(metrics.Collector.Handler()))
	}

	v1 := r.Group("/v1")
	if cfg.API.AuthToken != "" {
		v1.Use(bearerAuth(cfg.API.AuthToken))
	}
	if cfg.API.RateLimitPerMinute > 0 {
		v1.Use(rateLimit(newRateLimiter(cfg.API.RateBurst, cfg.API.RateLimitPerMinute)))
	}
	{
		v1.GET("/conversations/:id/capabilities", s.capabilities)
		v1.POST("/conversations/:id/tool-calls", s.toolCalls)
		v1.GET("/tasks/:id", s.task)
		if s.assistant != nil {
			v1.POST("/conversations/:id/messages", s.message)
		}
	}
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      150 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", "addr", addr)
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.Inc()
		metrics.HTTPResponse(route, status).Inc()
		s.logger.Info("request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency", time.Since(start),
		)
	}
}

func bearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime":         metrics.Collector.Uptime().Round(time.Second).String(),
		"deferredActive": len(s.turn.Active()),
	})
}

func (s *Server) capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": s.turn.Capabilities(c.Param("id"))})
}

// wireCall accepts arguments either as serialized text, the way models emit
// them, or as an inline JSON object.
type wireCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name" binding:"required"`
	Arguments json.RawMessage `json:"arguments"`
}

func (w wireCall) toolCall() domain.ToolCall {
	args := strings.TrimSpace(string(w.Arguments))
	var text string
	if strings.HasPrefix(args, `"`) && json.Unmarshal(w.Arguments, &text) == nil {
		args = text
	} else if args == "null" {
		args = ""
	}
	return domain.ToolCall{ID: w.ID, Name: w.Name, Arguments: args}
}

type toolCallsRequest struct {
	Locale string     `json:"locale"`
	Calls  []wireCall `json:"calls" binding:"required,min=1,dive"`
}

type toolCallsResponse struct {
	Envelopes    []domain.Envelope `json:"envelopes"`
	DeferredTask string            `json:"deferredTask,omitempty"`
	Failures     []string          `json:"failures,omitempty"`
}

func (s *Server) toolCalls(c *gin.Context) {
	conversationID := c.Param("id")
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)

	var req toolCallsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	calls := make([]domain.ToolCall, len(req.Calls))
	for i, wc := range req.Calls {
		calls[i] = wc.toolCall()
	}

	envelopes, err := s.turn.Invoke(c.Request.Context(), conversationID, calls, req.Locale)
	resp := toolCallsResponse{Envelopes: envelopes, Failures: callFailures(err)}
	if agent.Pending(envelopes) > 0 {
		resp.DeferredTask = uuid.NewString()
	}

	c.JSON(http.StatusOK, resp)
	c.Writer.Flush()

	// Deferred work starts only once the reply is on the wire.
	if resp.DeferredTask != "" {
		s.turn.DeferAs(c.Request.Context(), resp.DeferredTask, conversationID, envelopes)
	}
}

func callFailures(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func (s *Server) task(c *gin.Context) {
	task, ok := s.turn.Task(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

type messageRequest struct {
	Text   string `json:"text" binding:"required"`
	Locale string `json:"locale"`
}

func (s *Server) message(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := s.assistant.Chat(c.Request.Context(), c.Param("id"), req.Text, req.Locale)
	if err != nil {
		s.logger.Error("assistant failed", "conversation", c.Param("id"), "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "reply": reply})
		return
	}
	c.JSON(http.StatusOK, reply)
}
