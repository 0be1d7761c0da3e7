package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"glucomate/internal/model"
)

type GlucoseRepository struct {
	db *gorm.DB
}

func NewGlucoseRepository(db *gorm.DB) *GlucoseRepository {
	return &GlucoseRepository{db: db}
}

func (r *GlucoseRepository) Create(record *model.GlucoseRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("create glucose record failed: %w", err)
	}
	return nil
}

// ListByUserID returns readings measured in [from, to), newest first.
func (r *GlucoseRepository) ListByUserID(userID uint, from, to time.Time, limit int) ([]model.GlucoseRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	var records []model.GlucoseRecord
	err := r.db.Where("user_id = ? AND measured_at >= ? AND measured_at < ?", userID, from, to).
		Order("measured_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list glucose records failed: %w", err)
	}
	return records, nil
}
