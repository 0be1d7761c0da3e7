package model

import "time"

const (
	PeriodFasting    = "fasting"
	PeriodBeforeMeal = "before_meal"
	PeriodAfterMeal  = "after_meal"
	PeriodBedtime    = "bedtime"
	PeriodRandom     = "random"
)

const (
	LevelLow    = "low"
	LevelNormal = "normal"
	LevelHigh   = "high"
)

// GlucoseRecord is one blood sugar reading in mmol/L.
type GlucoseRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index:idx_user_measured,priority:1" json:"user_id"`
	Value      float64   `gorm:"not null" json:"value"`
	Period     string    `gorm:"size:16;not null" json:"period"`
	Note       string    `gorm:"size:255" json:"note"`
	MeasuredAt time.Time `gorm:"not null;index:idx_user_measured,priority:2" json:"measured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Level classifies the reading. Fasting readings use the tighter upper bound.
func (r GlucoseRecord) Level() string {
	return GlucoseLevel(r.Value, r.Period)
}

func GlucoseLevel(value float64, period string) string {
	if value < 3.9 {
		return LevelLow
	}
	upper := 7.8
	if period == PeriodFasting {
		upper = 6.1
	}
	if value > upper {
		return LevelHigh
	}
	return LevelNormal
}

func ValidPeriod(period string) bool {
	switch period {
	case PeriodFasting, PeriodBeforeMeal, PeriodAfterMeal, PeriodBedtime, PeriodRandom:
		return true
	}
	return false
}
