package server

import (
	"errors"
	"net/http"
	"time"

	"cfwatch/internal/engine"
	"cfwatch/internal/logger"
	"cfwatch/internal/models"

	"github.com/gin-gonic/gin"
)

type IDRequest struct {
	ID string `json:"id" binding:"required"`
}

type AddRuleRequest struct {
	Name              string  `json:"name" binding:"required"`
	Metric            string  `json:"metric" binding:"required"`
	Condition         string  `json:"condition" binding:"required"`
	Value             float64 `json:"value"`
	TimeWindowMinutes int     `json:"time_window_minutes"`
	Zone              string  `json:"zone"`
	Enabled           *bool   `json:"enabled"`
}

// ToModel converts the request to the storage model. Validation happens in
// the rule store, not here.
func (r AddRuleRequest) ToModel() *models.AlertRule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &models.AlertRule{
		Name:              r.Name,
		Metric:            r.Metric,
		Condition:         r.Condition,
		Value:             r.Value,
		TimeWindowMinutes: r.TimeWindowMinutes,
		Zone:              r.Zone,
		Enabled:           enabled,
	}
}

type UpdateRuleRequest struct {
	ID string `json:"id" binding:"required"`
	engine.RuleUpdate
}

type ListAlertsRequest struct {
	Limit int `json:"limit"`
}

type logQuerySearchRequest struct {
	RuleID    string     `json:"rule_id"`
	Severity  string     `json:"severity"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

func (r logQuerySearchRequest) ToQuery() *logger.AlertLogQuery {
	return &logger.AlertLogQuery{
		RuleID:    r.RuleID,
		Severity:  r.Severity,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Limit:     r.Limit,
		Offset:    r.Offset,
	}
}

// writeError maps engine errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
