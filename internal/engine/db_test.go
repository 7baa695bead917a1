package engine

import (
	"testing"

	"cfwatch/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.AlertRule{}, &models.Alert{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func testRule(name string) *models.AlertRule {
	return &models.AlertRule{
		Name:      name,
		Metric:    string(MetricStatus5xx),
		Condition: string(ConditionThreshold),
		Value:     100,
		Enabled:   true,
	}
}
