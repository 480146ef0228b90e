package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/watchroom/watchroom/internal/models"
)

// ResumeRepository stores per-user resume positions.
type ResumeRepository struct {
	db *gorm.DB
}

// NewResumeRepository creates a ResumeRepository.
func NewResumeRepository(db *gorm.DB) *ResumeRepository {
	return &ResumeRepository{db: db}
}

// Save records where a user stopped watching a media file, replacing any
// earlier position for the same file.
func (r *ResumeRepository) Save(ctx context.Context, userID, mediaPath string, position float64) error {
	point := models.ResumePoint{
		UserID:    userID,
		MediaPath: mediaPath,
		Position:  position,
		WatchedAt: time.Now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "media_path"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "watched_at", "updated_at"}),
	}).Create(&point).Error
	if err != nil {
		return fmt.Errorf("saving resume point: %w", err)
	}
	return nil
}

// Get returns the saved position for a user and media file.
func (r *ResumeRepository) Get(ctx context.Context, userID, mediaPath string) (*models.ResumePoint, error) {
	var point models.ResumePoint
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND media_path = ?", userID, mediaPath).
		First(&point).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting resume point: %w", err)
	}
	return &point, nil
}

// RecentForUser returns a user's most recently watched media, newest first.
func (r *ResumeRepository) RecentForUser(ctx context.Context, userID string, limit int) ([]models.ResumePoint, error) {
	var points []models.ResumePoint
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("watched_at DESC").
		Limit(limit).
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("listing resume points: %w", err)
	}
	return points, nil
}
