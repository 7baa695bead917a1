package server

import (
	"context"
	"net/http"
	"time"

	"cfwatch/api/middleware"
	"cfwatch/internal/config"
	"cfwatch/internal/elasticsearch"
	"cfwatch/internal/engine"
	"cfwatch/internal/logger"

	"github.com/gin-gonic/gin"
)

// Server exposes the alert engine to the UI layer: rule CRUD, alert history
// with acknowledgment, the audit log, and engine status.
type Server struct {
	router  *gin.Engine
	engine  *engine.Engine
	rules   *engine.RuleStore
	history *engine.HistoryStore
	es      *elasticsearch.Client
	config  *config.Config
	logDir  string
}

func NewServer(eng *engine.Engine, rules *engine.RuleStore, history *engine.HistoryStore, esClient *elasticsearch.Client, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	// Bound request handling so a stuck storage layer cannot pile up handlers.
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	server := &Server{
		router:  router,
		engine:  eng,
		rules:   rules,
		history: history,
		es:      esClient,
		config:  cfg,
		logDir:  "logs",
	}

	if err := logger.InitAlertLog(server.logDir); err != nil {
		logger.Warn("Failed to initialize alert log directory")
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.RateLimit())

	{
		// Rule management
		api.POST("/alert/rule/add", s.addRule)
		api.POST("/alert/rule/list", s.listRules)
		api.POST("/alert/rule/get", s.getRule)
		api.POST("/alert/rule/update", s.updateRule)
		api.POST("/alert/rule/remove", s.removeRule)

		// Alert history
		api.POST("/alert/list", s.listAlerts)
		api.POST("/alert/acknowledge", s.acknowledgeAlert)
		api.POST("/alert/clear", s.clearAlerts)

		// Audit log (file-backed, survives history clears)
		api.POST("/alert/log/search", s.searchAlertLogs)

		// Elasticsearch mirror (when enabled)
		api.POST("/alert/es/search", s.searchAlertsES)

		// Engine control
		api.POST("/engine/status", s.engineStatus)
		api.POST("/engine/tick", s.triggerTick)

		api.GET("/config", s.getConfig)
	}

	s.router.GET("/health", s.healthCheck)
}

func (s *Server) addRule(c *gin.Context) {
	var req AddRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := req.ToModel()
	id, err := s.rules.Create(rule)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      id,
		"message": "Rule created successfully",
	})
}

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.rules.List()
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) getRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := s.rules.Get(req.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.rules.Update(req.ID, req.RuleUpdate); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule updated successfully"})
}

func (s *Server) removeRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.rules.Delete(req.ID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule removed successfully"})
}

func (s *Server) listAlerts(c *gin.Context) {
	var req ListAlertsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alerts, err := s.history.List(req.Limit)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.history.Acknowledge(req.ID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert acknowledged"})
}

func (s *Server) clearAlerts(c *gin.Context) {
	if err := s.history.Clear(); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert history cleared"})
}

func (s *Server) searchAlertLogs(c *gin.Context) {
	var req logQuerySearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := logger.QueryAlertLogs(s.logDir, req.ToQuery())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query alert logs"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) searchAlertsES(c *gin.Context) {
	if s.es == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Elasticsearch is disabled"})
		return
	}

	var query elasticsearch.SearchQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.es.SearchAlerts(&query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search alerts"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) engineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) triggerTick(c *gin.Context) {
	if err := s.engine.EvaluateNow(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Evaluation pass completed"})
}

func (s *Server) getConfig(c *gin.Context) {
	// Never expose credentials through the API.
	sanitized := *s.config
	sanitized.Cloudflare.APIToken = "***"
	sanitized.Database.Password = "***"
	sanitized.Elasticsearch.Password = "***"

	c.JSON(http.StatusOK, sanitized)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": s.engine.Status().Running,
	})
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
