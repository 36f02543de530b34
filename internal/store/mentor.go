package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

// GetMentor loads one mentor.
func (s *Store) GetMentor(ctx context.Context, userID string) (*models.Mentor, error) {
	var m models.Mentor
	err := s.run(ctx, func(db *gorm.DB) error {
		return db.Where("user_id = ?", userID).First(&m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: mentor %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get mentor %s: %w", userID, err)
	}
	return &m, nil
}

// ListMentors returns every registered mentor in registration order.
func (s *Store) ListMentors(ctx context.Context) ([]models.Mentor, error) {
	return s.listMentors(ctx, "")
}

// ListAvailableMentors returns mentors whose availability is "available".
func (s *Store) ListAvailableMentors(ctx context.Context) ([]models.Mentor, error) {
	return s.listMentors(ctx, models.AvailabilityAvailable)
}

func (s *Store) listMentors(ctx context.Context, availability string) ([]models.Mentor, error) {
	var ms []models.Mentor
	err := s.run(ctx, func(db *gorm.DB) error {
		q := db
		if availability != "" {
			q = q.Where("availability = ?", availability)
		}
		return q.Order("registered_at ASC, user_id ASC").Find(&ms).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store: list mentors: %w", err)
	}
	return ms, nil
}

// UpsertMentor creates the mentor or updates its profile and availability.
// RegisteredAt is kept from the first registration.
func (s *Store) UpsertMentor(ctx context.Context, m *models.Mentor) error {
	if m.UserID == "" {
		return fmt.Errorf("store: mentor user id is required")
	}
	if m.Availability == "" {
		m.Availability = models.AvailabilityAvailable
	}
	if !models.ValidAvailability(m.Availability) {
		return fmt.Errorf("store: invalid availability %q", m.Availability)
	}
	now := s.now()
	if m.RegisteredAt.IsZero() {
		m.RegisteredAt = now
	}
	m.UpdatedAt = now

	return s.run(ctx, func(db *gorm.DB) error {
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "bio", "availability", "updated_at"}),
		}).Create(m).Error
		if err != nil {
			return fmt.Errorf("store: upsert mentor %s: %w", m.UserID, err)
		}
		return nil
	})
}

// SetMentorAvailability changes only the availability of a registered mentor.
func (s *Store) SetMentorAvailability(ctx context.Context, userID, availability string) error {
	if !models.ValidAvailability(availability) {
		return fmt.Errorf("store: invalid availability %q", availability)
	}
	return s.run(ctx, func(db *gorm.DB) error {
		result := db.Model(&models.Mentor{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
			"availability": availability,
			"updated_at":   s.now(),
		})
		if result.Error != nil {
			return fmt.Errorf("store: set availability of %s: %w", userID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("store: mentor %s: %w", userID, ErrNotFound)
		}
		return nil
	})
}

// DeleteMentor removes a mentor registration.
func (s *Store) DeleteMentor(ctx context.Context, userID string) error {
	return s.run(ctx, func(db *gorm.DB) error {
		result := db.Where("user_id = ?", userID).Delete(&models.Mentor{})
		if result.Error != nil {
			return fmt.Errorf("store: delete mentor %s: %w", userID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("store: mentor %s: %w", userID, ErrNotFound)
		}
		return nil
	})
}
