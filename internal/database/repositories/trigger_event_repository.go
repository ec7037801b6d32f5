// Package repositories provides data access layer implementations.
package repositories

import (
	"context"
	"time"

	"github.com/livepilot/livepilot-go/internal/database/models"
	"github.com/lucsky/cuid"
	"gorm.io/gorm"
)

// TriggerEventRepository handles trigger history data access.
type TriggerEventRepository struct {
	db *gorm.DB
}

// NewTriggerEventRepository creates a new TriggerEventRepository.
func NewTriggerEventRepository(db *gorm.DB) *TriggerEventRepository {
	return &TriggerEventRepository{db: db}
}

// Create inserts one trigger event.
func (r *TriggerEventRepository) Create(ctx context.Context, event *models.TriggerEvent) error {
	if event.ID == "" {
		event.ID = cuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// CreateBatch inserts multiple trigger events in one statement.
func (r *TriggerEventRepository) CreateBatch(ctx context.Context, events []models.TriggerEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = cuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&events).Error
}

// FindRecent returns the most recent trigger events, newest first.
func (r *TriggerEventRepository) FindRecent(ctx context.Context, limit int) ([]models.TriggerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.TriggerEvent
	result := r.db.WithContext(ctx).
		Order("fired_at DESC").
		Limit(limit).
		Find(&events)
	return events, result.Error
}

// FindByRule returns trigger events for one rule, newest first.
func (r *TriggerEventRepository) FindByRule(ctx context.Context, ruleID string, limit int) ([]models.TriggerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.TriggerEvent
	result := r.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("fired_at DESC").
		Limit(limit).
		Find(&events)
	return events, result.Error
}

// CountByRule returns the number of recorded events for one rule.
func (r *TriggerEventRepository) CountByRule(ctx context.Context, ruleID string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).
		Model(&models.TriggerEvent{}).
		Where("rule_id = ?", ruleID).
		Count(&count)
	return count, result.Error
}

// DeleteOlderThan removes events fired before the cutoff.
func (r *TriggerEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("fired_at < ?", cutoff).
		Delete(&models.TriggerEvent{})
	return result.RowsAffected, result.Error
}
