package app

import (
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"glucomate/internal/model"
)

const (
	minGlucose = 0.5
	maxGlucose = 50.0

	defaultWindow = 7 * 24 * time.Hour
)

type GlucoseService struct {
	repo   GlucoseRepository
	logger *zap.Logger
	now    func() time.Time
}

type LogGlucoseInput struct {
	UserID     uint
	Value      float64
	Period     string
	Note       string
	MeasuredAt time.Time
}

type GlucoseView struct {
	model.GlucoseRecord
	Level string `json:"level"`
}

type GlucoseStats struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Count     int       `json:"count"`
	Average   float64   `json:"average"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Low       int       `json:"low"`
	Normal    int       `json:"normal"`
	High      int       `json:"high"`
	InRangePc float64   `json:"in_range_percent"`
}

func NewGlucoseService(repo GlucoseRepository, logger *zap.Logger) *GlucoseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GlucoseService{repo: repo, logger: logger.Named("glucose"), now: time.Now}
}

func (s *GlucoseService) Log(input LogGlucoseInput) (*GlucoseView, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	if input.Value < minGlucose || input.Value > maxGlucose || math.IsNaN(input.Value) {
		return nil, ErrInvalidValue
	}
	period := strings.TrimSpace(input.Period)
	if period == "" {
		period = model.PeriodRandom
	}
	if !model.ValidPeriod(period) {
		return nil, ErrInvalidPeriod
	}
	measuredAt := input.MeasuredAt
	if measuredAt.IsZero() {
		measuredAt = s.now()
	}

	record := &model.GlucoseRecord{
		UserID:     input.UserID,
		Value:      math.Round(input.Value*10) / 10,
		Period:     period,
		Note:       strings.TrimSpace(input.Note),
		MeasuredAt: measuredAt,
	}
	if err := s.repo.Create(record); err != nil {
		return nil, err
	}
	view := &GlucoseView{GlucoseRecord: *record, Level: record.Level()}
	if view.Level != model.LevelNormal {
		s.logger.Info("glucose out of range",
			zap.Uint("user_id", input.UserID),
			zap.Float64("value", record.Value),
			zap.String("period", period),
			zap.String("level", view.Level),
		)
	}
	return view, nil
}

// List returns readings in [from, to), newest first. Zero bounds default to
// the last seven days.
func (s *GlucoseService) List(userID uint, from, to time.Time, limit int) ([]GlucoseView, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	from, to = s.window(from, to)
	records, err := s.repo.ListByUserID(userID, from, to, limit)
	if err != nil {
		return nil, err
	}
	views := make([]GlucoseView, 0, len(records))
	for _, r := range records {
		views = append(views, GlucoseView{GlucoseRecord: r, Level: r.Level()})
	}
	return views, nil
}

func (s *GlucoseService) Stats(userID uint, from, to time.Time) (*GlucoseStats, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	from, to = s.window(from, to)
	records, err := s.repo.ListByUserID(userID, from, to, 1000)
	if err != nil {
		return nil, err
	}

	stats := &GlucoseStats{From: from, To: to, Count: len(records)}
	if len(records) == 0 {
		return stats, nil
	}
	stats.Min, stats.Max = records[0].Value, records[0].Value
	var sum float64
	for _, r := range records {
		sum += r.Value
		stats.Min = math.Min(stats.Min, r.Value)
		stats.Max = math.Max(stats.Max, r.Value)
		switch r.Level() {
		case model.LevelLow:
			stats.Low++
		case model.LevelHigh:
			stats.High++
		default:
			stats.Normal++
		}
	}
	stats.Average = math.Round(sum/float64(len(records))*10) / 10
	stats.InRangePc = math.Round(float64(stats.Normal)/float64(len(records))*1000) / 10
	return stats, nil
}

func (s *GlucoseService) window(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() || !from.Before(to) {
		from = to.Add(-defaultWindow)
	}
	return from, to
}
