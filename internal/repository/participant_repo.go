// Package repository provides data access for watchroom models.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/watchroom/watchroom/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ParticipantRepository manages registered watch-party members.
type ParticipantRepository struct {
	db *gorm.DB
}

// NewParticipantRepository creates a ParticipantRepository.
func NewParticipantRepository(db *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Upsert creates or updates a participant keyed by user ID.
func (r *ParticipantRepository) Upsert(ctx context.Context, participant *models.Participant) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "updated_at"}),
	}).Create(participant).Error
	if err != nil {
		return fmt.Errorf("upserting participant: %w", err)
	}
	return nil
}

// GetByUserID returns the participant with the given user ID.
func (r *ParticipantRepository) GetByUserID(ctx context.Context, userID string) (*models.Participant, error) {
	var participant models.Participant
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting participant: %w", err)
	}
	return &participant, nil
}

// DisplayName returns the display name for a user ID, falling back to the
// user ID itself for unknown users. Satisfies the roster provider contract
// of the sync hub.
func (r *ParticipantRepository) DisplayName(ctx context.Context, userID string) (string, error) {
	participant, err := r.GetByUserID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return userID, nil
	}
	if err != nil {
		return "", err
	}
	return participant.DisplayName, nil
}

// List returns all participants.
func (r *ParticipantRepository) List(ctx context.Context) ([]models.Participant, error) {
	var participants []models.Participant
	if err := r.db.WithContext(ctx).Order("display_name").Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	return participants, nil
}
