package engine

import (
	"errors"
	"fmt"
	"time"

	"cfwatch/internal/models"

	"gorm.io/gorm"
)

// HistoryStore is the append-only (but user-clearable) alert log with
// acknowledgment tracking.
type HistoryStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db, now: time.Now}
}

// Append persists an emitted alert.
func (s *HistoryStore) Append(alert *models.Alert) error {
	if err := s.db.Create(alert).Error; err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}
	return nil
}

// List returns alerts most-recent-first. limit <= 0 returns everything.
func (s *HistoryStore) List(limit int) ([]models.Alert, error) {
	q := s.db.Order("triggered_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var alerts []models.Alert
	if err := q.Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge sets acknowledged_at exactly once. Acknowledging an already
// acknowledged alert is a no-op; an unknown id is ErrNotFound.
func (s *HistoryStore) Acknowledge(id string) error {
	var alert models.Alert
	if err := s.db.First(&alert, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: alert %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to load alert: %w", err)
	}

	if alert.AcknowledgedAt != nil {
		return nil
	}

	now := s.now()
	if err := s.db.Model(&alert).Update("acknowledged_at", &now).Error; err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return nil
}

// Clear removes all history rows. Rules and transient firing state are
// untouched; a rule mid-firing stays firing.
func (s *HistoryStore) Clear() error {
	if err := s.db.Where("1 = 1").Delete(&models.Alert{}).Error; err != nil {
		return fmt.Errorf("failed to clear alerts: %w", err)
	}
	return nil
}

// LatestUnacknowledged returns the most recent unacknowledged alert for a
// rule, or nil when there is none. The scheduler uses it to resume firing
// state across restarts.
func (s *HistoryStore) LatestUnacknowledged(ruleID string) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.Where("rule_id = ? AND acknowledged_at IS NULL", ruleID).
		Order("triggered_at DESC").First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	return &alert, nil
}
