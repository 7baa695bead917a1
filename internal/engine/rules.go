package engine

import (
	"errors"
	"fmt"
	"strings"

	"cfwatch/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RuleStore is the durable CRUD surface for alert rules. Every write is a
// single statement, so readers never observe a partially written rule.
type RuleStore struct {
	db *gorm.DB
}

func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{db: db}
}

// RuleUpdate carries a partial update; nil fields are left untouched.
type RuleUpdate struct {
	Name              *string  `json:"name,omitempty"`
	Metric            *string  `json:"metric,omitempty"`
	Condition         *string  `json:"condition,omitempty"`
	Value             *float64 `json:"value,omitempty"`
	TimeWindowMinutes *int     `json:"time_window_minutes,omitempty"`
	Zone              *string  `json:"zone,omitempty"`
	Enabled           *bool    `json:"enabled,omitempty"`
}

// Create validates the rule, assigns its id and persists it. On validation
// failure the store is unchanged and ErrInvalidRule is returned.
func (s *RuleStore) Create(rule *models.AlertRule) (string, error) {
	if err := validateRule(rule); err != nil {
		return "", err
	}

	rule.ID = uuid.NewString()
	if err := s.db.Create(rule).Error; err != nil {
		return "", fmt.Errorf("failed to create rule: %w", err)
	}
	return rule.ID, nil
}

// Update applies a partial update after re-validating the merged rule.
func (s *RuleStore) Update(id string, upd RuleUpdate) error {
	var rule models.AlertRule
	if err := s.db.First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: rule %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to load rule: %w", err)
	}

	if upd.Name != nil {
		rule.Name = *upd.Name
	}
	if upd.Metric != nil {
		rule.Metric = *upd.Metric
	}
	if upd.Condition != nil {
		rule.Condition = *upd.Condition
	}
	if upd.Value != nil {
		rule.Value = *upd.Value
	}
	if upd.TimeWindowMinutes != nil {
		rule.TimeWindowMinutes = *upd.TimeWindowMinutes
	}
	if upd.Zone != nil {
		rule.Zone = *upd.Zone
	}
	if upd.Enabled != nil {
		rule.Enabled = *upd.Enabled
	}

	if err := validateRule(&rule); err != nil {
		return err
	}

	if err := s.db.Save(&rule).Error; err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// Delete removes a rule. Deleting an id that does not exist is a no-op to
// tolerate UI races. Already-emitted alerts are never touched.
func (s *RuleStore) Delete(id string) error {
	if err := s.db.Delete(&models.AlertRule{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

func (s *RuleStore) Get(id string) (*models.AlertRule, error) {
	var rule models.AlertRule
	if err := s.db.First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: rule %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load rule: %w", err)
	}
	return &rule, nil
}

func (s *RuleStore) List() ([]models.AlertRule, error) {
	var rules []models.AlertRule
	if err := s.db.Order("created_at").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (s *RuleStore) ListEnabled() ([]models.AlertRule, error) {
	var rules []models.AlertRule
	if err := s.db.Where("enabled = ?", true).Order("created_at").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	return rules, nil
}

func validateRule(rule *models.AlertRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidRule)
	}
	if _, err := ParseMetric(rule.Metric); err != nil {
		return err
	}
	cond, err := ParseCondition(rule.Condition)
	if err != nil {
		return err
	}
	if rule.Value < 0 {
		return fmt.Errorf("%w: value must not be negative", ErrInvalidRule)
	}
	if cond.NeedsWindow() && rule.TimeWindowMinutes < 1 {
		return fmt.Errorf("%w: time window must be at least 1 minute for %s rules", ErrInvalidRule, cond)
	}
	return nil
}
