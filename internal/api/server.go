package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"resilient-trading-bot/config"
	"resilient-trading-bot/internal/alert"
	"resilient-trading-bot/internal/bot"
	"resilient-trading-bot/internal/metrics"
	"resilient-trading-bot/internal/resilience"
	"resilient-trading-bot/internal/risk"
	"resilient-trading-bot/internal/state"
)

// Server exposes the runtime status over HTTP. It is read-only apart
// from the manual state save endpoint.
type Server struct {
	cfg     config.ServerConfig
	bot     *bot.Bot
	state   *state.Manager
	gate    *risk.Gate
	retry   *resilience.Executor
	alerts  *alert.Dispatcher
	metrics *metrics.Metrics
	logger  zerolog.Logger

	httpServer *http.Server
}

// NewServer wires the HTTP layer over the running components.
func NewServer(cfg config.ServerConfig, b *bot.Bot, stateManager *state.Manager,
	gate *risk.Gate, retry *resilience.Executor, alerts *alert.Dispatcher,
	m *metrics.Metrics, logger zerolog.Logger) *Server {

	return &Server{
		cfg:     cfg,
		bot:     b,
		state:   stateManager,
		gate:    gate,
		retry:   retry,
		alerts:  alerts,
		metrics: m,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if s.cfg.AllowedOrigins == "*" || s.cfg.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{s.cfg.AllowedOrigins}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", s.handleHealthz)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/state", s.handleState)
		apiGroup.GET("/alerts", s.handleAlerts)
		apiGroup.GET("/breakers", s.handleBreakers)
		apiGroup.GET("/risk/metrics", s.handleRiskMetrics)
		apiGroup.POST("/state/save", s.handleStateSave)
	}

	return router
}

// Start runs the HTTP server in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	go func() {
		s.logger.Info().Str("addr", addr).Msg("api server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("api server error")
		}
	}()
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	timeout := time.Duration(s.cfg.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("shutting down api server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": s.bot.IsRunning(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"bot":   s.bot.Status(),
		"state": s.state.Stats(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleAlerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": s.alerts.History(limit),
		"stats":  s.alerts.Stats(),
	})
}

func (s *Server) handleBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, s.retry.Breakers().Stats())
}

func (s *Server) handleRiskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.gate.Stats())
}

func (s *Server) handleStateSave(c *gin.Context) {
	if !s.state.Save(true) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}
