package repositories

import (
	"context"
	"time"

	"github.com/livepilot/livepilot-go/internal/database/models"
	"github.com/lucsky/cuid"
	"gorm.io/gorm"
)

// SweepSessionRepository handles sweep session data access.
type SweepSessionRepository struct {
	db *gorm.DB
}

// NewSweepSessionRepository creates a new SweepSessionRepository.
func NewSweepSessionRepository(db *gorm.DB) *SweepSessionRepository {
	return &SweepSessionRepository{db: db}
}

// Create inserts one finished sweep session.
func (r *SweepSessionRepository) Create(ctx context.Context, session *models.SweepSession) error {
	if session.ID == "" {
		session.ID = cuid.New()
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// FindRecent returns the most recently ended sessions, newest first.
func (r *SweepSessionRepository) FindRecent(ctx context.Context, limit int) ([]models.SweepSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []models.SweepSession
	result := r.db.WithContext(ctx).
		Order("ended_at DESC").
		Limit(limit).
		Find(&sessions)
	return sessions, result.Error
}

// CountByOutcome returns how many sessions ended with the given outcome.
func (r *SweepSessionRepository) CountByOutcome(ctx context.Context, outcome string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).
		Model(&models.SweepSession{}).
		Where("outcome = ?", outcome).
		Count(&count)
	return count, result.Error
}

// DeleteOlderThan removes sessions that ended before the cutoff.
func (r *SweepSessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("ended_at < ?", cutoff).
		Delete(&models.SweepSession{})
	return result.RowsAffected, result.Error
}
