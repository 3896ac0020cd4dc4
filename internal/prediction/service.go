// Package prediction applies the confidence policy to classifier results,
// enriches them from the pest knowledge base and keeps the prediction history.
package prediction

import (
	"context"
	"fmt"
	"time"

	"github.com/kinga-app/kinga/internal/classifier"
	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/datastore/repository"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
	"github.com/kinga-app/kinga/internal/observability/metrics"
)

// Status is the policy decision for one prediction.
type Status string

const (
	// StatusUnknown means the score was below the low threshold.
	StatusUnknown Status = "unknown"
	// StatusUnsure means the label was found but the score was below the unsure threshold.
	StatusUnsure Status = "unsure"
	// StatusIdentified means the label was found with a confident score.
	StatusIdentified Status = "identified"
	// StatusNoKnowledge means the label has no knowledge record; nothing is logged.
	StatusNoKnowledge Status = "no_knowledge"
)

// Display strings returned to clients.
const (
	UnknownName        = "Unknown Object"
	UnknownSwahiliName = "Haijulikani"
	UnknownDescription = "Cannot identify."
	UnsureSuffix       = " (Unsure)"
	HistoryPlaceholder = "Unknown"
	noValue            = "-"
	dateLayout         = time.DateOnly
)

// Classifier is the part of classifier.Classifier the service needs.
type Classifier interface {
	Classify(ctx context.Context, data []byte) (classifier.Result, error)
}

// View is the client facing prediction.
type View struct {
	Name           string `json:"name"`
	SwahiliName    string `json:"swahili_name"`
	Description    string `json:"description"`
	Causes         string `json:"causes"`
	Effects        string `json:"effects"`
	Actions        string `json:"actions"`
	SwahiliCauses  string `json:"swahili_causes"`
	SwahiliEffects string `json:"swahili_effects"`
	SwahiliActions string `json:"swahili_actions"`
	Confidence     string `json:"confidence"`
}

// Outcome is the result of Predict.
type Outcome struct {
	Status Status
	Label  string  // raw model label
	Score  float64 // percent
	View   View
	// Record is the history row written, nil when none was.
	Record *entities.PredictionRecord
}

// HistoryEntry is one row of the prediction history.
type HistoryEntry struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	SwahiliName string `json:"swahili_name"`
	Date        string `json:"date"`
	Confidence  string `json:"confidence"`
}

// Service runs predictions and reads the history.
type Service struct {
	classifier Classifier
	knowledge  repository.KnowledgeRepository
	history    repository.HistoryRepository
	low        float64
	unsure     float64
	recorder   metrics.Recorder
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) {
		s.recorder = metrics.OrNoOp(r)
	}
}

// WithClock overrides the time source used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service. Thresholds are percentages.
func NewService(c Classifier, knowledge repository.KnowledgeRepository, history repository.HistoryRepository,
	settings *conf.PredictionSettings, opts ...Option) *Service {
	s := &Service{
		classifier: c,
		knowledge:  knowledge,
		history:    history,
		low:        settings.LowThreshold,
		unsure:     settings.UnsureThreshold,
		recorder:   metrics.NoOpRecorder{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict classifies data and applies the confidence policy:
//   - below the low threshold the sentinel view is returned and nothing else happens
//   - a label without a knowledge record returns blank text and is not logged
//   - a known label is logged with imageName and its score
//
// Below the unsure threshold the display name gets the unsure suffix; stored data is untouched.
func (s *Service) Predict(ctx context.Context, imageName string, data []byte) (*Outcome, error) {
	start := time.Now()
	defer func() {
		s.recorder.RecordDuration(metrics.OpPredict, time.Since(start).Seconds())
	}()

	res, err := s.classifier.Classify(ctx, data)
	if err != nil {
		s.recorder.RecordOperation(metrics.OpPredict, metrics.StatusError)
		s.recorder.RecordError(metrics.OpPredict, classifyErrorType(err))
		return nil, err
	}

	out, err := s.apply(ctx, imageName, res)
	if err != nil {
		s.recorder.RecordOperation(metrics.OpPredict, metrics.StatusError)
		s.recorder.RecordError(metrics.OpPredict, "database")
		return nil, err
	}

	s.recorder.RecordOperation(metrics.OpPredict, string(out.Status))
	GetLogger().Info("prediction",
		logger.String("label", res.Label),
		logger.Float64("confidence", res.Confidence),
		logger.String("status", string(out.Status)),
		logger.String("image", imageName))
	return out, nil
}

func (s *Service) apply(ctx context.Context, imageName string, res classifier.Result) (*Outcome, error) {
	score := res.Confidence
	out := &Outcome{Label: res.Label, Score: score}

	if score < s.low {
		out.Status = StatusUnknown
		out.View = View{
			Name:           UnknownName,
			SwahiliName:    UnknownSwahiliName,
			Description:    UnknownDescription,
			Causes:         noValue,
			Effects:        noValue,
			Actions:        noValue,
			SwahiliCauses:  noValue,
			SwahiliEffects: noValue,
			SwahiliActions: noValue,
			Confidence:     fmt.Sprintf("%.1f%% (Low)", score),
		}
		return out, nil
	}

	out.View = View{
		Name:        res.Label,
		SwahiliName: res.Label,
		Confidence:  fmt.Sprintf("%.1f%%", score),
	}

	pest, err := s.knowledge.GetByName(ctx, res.Label)
	switch {
	case errors.Is(err, repository.ErrKnowledgeNotFound):
		out.Status = StatusNoKnowledge
		GetLogger().Warn("no knowledge record for label", logger.String("label", res.Label))
	case err != nil:
		return nil, err
	default:
		out.View.SwahiliName = pest.SwahiliName
		out.View.Description = pest.Description
		out.View.Causes = pest.Causes
		out.View.Effects = pest.Effects
		out.View.Actions = pest.RecommendedActions
		out.View.SwahiliCauses = pest.SwahiliCauses
		out.View.SwahiliEffects = pest.SwahiliEffects
		out.View.SwahiliActions = pest.SwahiliActions

		record := &entities.PredictionRecord{
			PestID:     &pest.ID,
			ImagePath:  imageName,
			Confidence: score,
			CreatedAt:  s.now().UTC(),
		}
		if err := s.history.Append(ctx, record); err != nil {
			return nil, err
		}
		record.Pest = pest
		out.Record = record
		out.Status = StatusIdentified
	}

	if score < s.unsure {
		out.View.Name += UnsureSuffix
		if out.Status == StatusIdentified {
			out.Status = StatusUnsure
		}
	}
	return out, nil
}

// History returns every logged prediction, newest first.
func (s *Service) History(ctx context.Context) ([]HistoryEntry, error) {
	start := time.Now()
	records, err := s.history.List(ctx)
	s.recorder.RecordDuration(metrics.OpHistory, time.Since(start).Seconds())
	if err != nil {
		s.recorder.RecordOperation(metrics.OpHistory, metrics.StatusError)
		return nil, err
	}
	s.recorder.RecordOperation(metrics.OpHistory, metrics.StatusSuccess)

	entries := make([]HistoryEntry, 0, len(records))
	for i := range records {
		r := &records[i]
		entry := HistoryEntry{
			ID:          r.ID,
			Name:        HistoryPlaceholder,
			SwahiliName: HistoryPlaceholder,
			Date:        r.CreatedAt.UTC().Format(dateLayout),
			Confidence:  fmt.Sprintf("%.1f%%", r.Confidence),
		}
		if r.Pest != nil {
			entry.Name = r.Pest.Name
			entry.SwahiliName = r.Pest.SwahiliName
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func classifyErrorType(err error) string {
	switch {
	case errors.Is(err, classifier.ErrDecode):
		return "decode"
	case errors.Is(err, classifier.ErrInference):
		return "inference"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
