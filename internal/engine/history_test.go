package engine

import (
	"errors"
	"testing"
	"time"

	"cfwatch/internal/models"

	"github.com/google/uuid"
)

func testAlert(ruleID string, triggeredAt time.Time) *models.Alert {
	return &models.Alert{
		ID:          uuid.NewString(),
		RuleID:      ruleID,
		RuleName:    "test rule",
		Metric:      string(MetricStatus5xx),
		Condition:   string(ConditionThreshold),
		Severity:    string(SeverityLow),
		Message:     "test",
		TriggeredAt: triggeredAt,
	}
}

func TestHistoryStoreListOrder(t *testing.T) {
	store := NewHistoryStore(newTestDB(t))
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.Append(testAlert("r1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	alerts, err := store.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("got %d alerts, want 3", len(alerts))
	}
	for i := 1; i < len(alerts); i++ {
		if alerts[i].TriggeredAt.After(alerts[i-1].TriggeredAt) {
			t.Error("alerts must be most-recent-first")
		}
	}

	limited, err := store.List(2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited list returned %d alerts, want 2", len(limited))
	}
}

func TestHistoryStoreAcknowledge(t *testing.T) {
	store := NewHistoryStore(newTestDB(t))

	ackTime := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return ackTime }

	alert := testAlert("r1", ackTime.Add(-time.Minute))
	if err := store.Append(alert); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := store.Acknowledge(alert.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	alerts, _ := store.List(0)
	if alerts[0].AcknowledgedAt == nil || !alerts[0].AcknowledgedAt.Equal(ackTime) {
		t.Fatalf("acknowledged_at = %v, want %v", alerts[0].AcknowledgedAt, ackTime)
	}

	// A second acknowledgment must not move the timestamp.
	store.now = func() time.Time { return ackTime.Add(time.Hour) }
	if err := store.Acknowledge(alert.ID); err != nil {
		t.Fatalf("second acknowledge: %v", err)
	}
	alerts, _ = store.List(0)
	if !alerts[0].AcknowledgedAt.Equal(ackTime) {
		t.Error("repeated acknowledgment must preserve the original timestamp")
	}
}

func TestHistoryStoreAcknowledgeMissing(t *testing.T) {
	store := NewHistoryStore(newTestDB(t))
	if err := store.Acknowledge("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("acknowledge error = %v, want ErrNotFound", err)
	}
}

func TestHistoryStoreClear(t *testing.T) {
	store := NewHistoryStore(newTestDB(t))
	now := time.Now().UTC()

	if err := store.Append(testAlert("r1", now)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	alerts, err := store.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("got %d alerts after clear, want 0", len(alerts))
	}
}

func TestHistoryStoreLatestUnacknowledged(t *testing.T) {
	store := NewHistoryStore(newTestDB(t))
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	if got, err := store.LatestUnacknowledged("r1"); err != nil || got != nil {
		t.Fatalf("empty store: got %v, %v; want nil, nil", got, err)
	}

	older := testAlert("r1", base)
	newer := testAlert("r1", base.Add(5*time.Minute))
	other := testAlert("r2", base.Add(10*time.Minute))
	for _, a := range []*models.Alert{older, newer, other} {
		if err := store.Append(a); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.LatestUnacknowledged("r1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got == nil || got.ID != newer.ID {
		t.Fatalf("latest = %+v, want alert %s", got, newer.ID)
	}

	// Acknowledged alerts are skipped.
	if err := store.Acknowledge(newer.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	got, err = store.LatestUnacknowledged("r1")
	if err != nil {
		t.Fatalf("latest after ack: %v", err)
	}
	if got == nil || got.ID != older.ID {
		t.Fatalf("latest after ack = %+v, want alert %s", got, older.ID)
	}
}
