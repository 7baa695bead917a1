package models

import "time"

// AlertRule 告警规则模型
type AlertRule struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	Name              string    `gorm:"size:255;not null" json:"name"`
	Metric            string    `gorm:"size:50;not null" json:"metric"`    // status2xx, status3xx, status4xx, status5xx
	Condition         string    `gorm:"size:20;not null" json:"condition"` // increase, decrease, threshold
	Value             float64   `json:"value"`                             // percent for increase/decrease, absolute for threshold
	TimeWindowMinutes int       `json:"time_window_minutes"`               // lookback for increase/decrease; ignored for threshold
	Zone              string    `gorm:"size:64" json:"zone"`               // optional zone tag; empty uses the configured default
	Enabled           bool      `gorm:"default:true;index" json:"enabled"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (AlertRule) TableName() string {
	return "alert_rules"
}

// Alert 告警记录
// Rule fields are denormalized at emission time so history survives rule
// edits and deletions unchanged.
type Alert struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	RuleID         string     `gorm:"size:36;index" json:"rule_id"`
	RuleName       string     `gorm:"size:255" json:"rule_name"`
	Metric         string     `gorm:"size:50" json:"metric"`
	Condition      string     `gorm:"size:20" json:"condition"`
	Zone           string     `gorm:"size:64" json:"zone"`
	Severity       string     `gorm:"size:20" json:"severity"` // low, medium, high
	Message        string     `gorm:"type:text" json:"message"`
	Observed       float64    `json:"observed"`  // current value at emission
	Threshold      float64    `json:"threshold"` // rule value at emission
	TriggeredAt    time.Time  `gorm:"index" json:"triggered_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (Alert) TableName() string {
	return "alerts"
}
