package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"glucomate/internal/labreport"
	"glucomate/internal/store"
)

// Indicator sources recorded next to each persisted finding.
const (
	SourceOCR  = "ocr"
	SourceText = "text"
)

type LabService struct {
	recognizer ReportRecognizer
	indicators IndicatorStore
	logger     *zap.Logger
	now        func() time.Time
}

type LabReportResult struct {
	Shape    string               `json:"shape,omitempty"`
	Source   string               `json:"source"`
	Entries  []labreport.LabEntry `json:"entries,omitempty"`
	Findings []string             `json:"findings"`
	Text     string               `json:"text,omitempty"`
}

func NewLabService(recognizer ReportRecognizer, indicators IndicatorStore, logger *zap.Logger) *LabService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LabService{
		recognizer: recognizer,
		indicators: indicators,
		logger:     logger.Named("lab"),
		now:        time.Now,
	}
}

// IngestReport recognizes a lab report photo, flags abnormal values and
// appends them to the user's indicator log.
func (s *LabService) IngestReport(ctx context.Context, userID uint, image []byte) (*LabReportResult, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	if len(image) == 0 {
		return nil, ErrImageEmpty
	}

	recognized, err := s.recognizer.Recognize(ctx, image, map[string]any{"ReturnFullText": true})
	if err != nil {
		return nil, err
	}

	analysis := labreport.Analyze(recognized.Rows, recognized.Text)
	result := &LabReportResult{
		Shape:    recognized.Shape,
		Source:   analysis.Source,
		Entries:  analysis.Entries,
		Findings: analysis.Findings,
		Text:     recognized.Text,
	}
	if err := s.record(ctx, userID, result.Findings, SourceOCR+":"+analysis.Source); err != nil {
		return nil, err
	}
	return result, nil
}

// ExtractText runs the free-text extractor over pasted report text.
func (s *LabService) ExtractText(ctx context.Context, userID uint, text string) (*LabReportResult, error) {
	if userID == 0 || strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}
	result := &LabReportResult{
		Source:   labreport.SourceFreeText,
		Findings: labreport.ExtractFromFreeText(text),
	}
	for _, m := range labreport.MatchFreeText(text) {
		s.logger.Debug("free text match", zap.String("category", m.Category), zap.String("line", m.Line))
	}
	if err := s.record(ctx, userID, result.Findings, SourceText); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LabService) ListIndicators(ctx context.Context, userID uint) ([]store.AbnormalIndicator, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.indicators.GetAll(ctx, userID)
}

func (s *LabService) ClearIndicators(ctx context.Context, userID uint) error {
	if userID == 0 {
		return ErrInvalidInput
	}
	return s.indicators.Clear(ctx, userID)
}

func (s *LabService) record(ctx context.Context, userID uint, findings []string, source string) error {
	if len(findings) == 0 {
		return nil
	}
	if err := s.indicators.Append(ctx, userID, findings, s.now(), source); err != nil {
		s.logger.Error("append abnormal indicators failed", zap.Uint("user_id", userID), zap.Error(err))
		return err
	}
	s.logger.Info("abnormal indicators recorded",
		zap.Uint("user_id", userID),
		zap.Int("count", len(findings)),
		zap.String("source", source),
	)
	return nil
}
