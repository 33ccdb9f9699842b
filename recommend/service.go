// Package recommend turns raw readings into a full recommendation: the
// pipeline's crop plus advice, image, history and live feed.
package recommend

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"croprec/crop"
	"croprec/db"
	"croprec/monitoring"
	"croprec/pipeline"
)

// Prediction sources.
const (
	SourceWeb  = "web"
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
	SourceCLI  = "cli"
)

// History stores and lists past recommendations.
type History interface {
	SavePrediction(ctx context.Context, rec db.PredictionRecord) error
	RecentPredictions(ctx context.Context, limit int) ([]db.PredictionRecord, error)
	CountByCrop(ctx context.Context) (map[string]int, error)
}

type Publisher interface {
	Publish(t monitoring.MessageType, data any) error
}

type ImageLookup interface {
	Lookup(name string) (string, bool)
}

// Recommendation is what the user sees for one prediction.
type Recommendation struct {
	ID         string             `json:"id"`
	Source     string             `json:"source"`
	Crop       string             `json:"crop"`
	Headline   string             `json:"headline"`
	Caption    string             `json:"caption"`
	ClassID    int                `json:"class_id"`
	Confidence float64            `json:"confidence"`
	Advice     *crop.Advice       `json:"advice,omitempty"`
	ImageURL   string             `json:"image_url,omitempty"`
	Warnings   []pipeline.Warning `json:"warnings,omitempty"`
	Readings   pipeline.Readings  `json:"readings"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Deps wires the optional collaborators. Only Pipeline is required.
type Deps struct {
	Pipeline *pipeline.Pipeline
	History  History
	Feed     Publisher
	Images   ImageLookup
	Stats    *monitoring.Stats
	Logger   *zap.Logger
}

type Service struct {
	pipeline *pipeline.Pipeline
	history  History
	feed     Publisher
	images   ImageLookup
	stats    *monitoring.Stats
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(deps Deps) *Service {
	s := &Service{
		pipeline: deps.Pipeline,
		history:  deps.History,
		feed:     deps.Feed,
		images:   deps.Images,
		stats:    deps.Stats,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if s.pipeline == nil {
		s.pipeline = pipeline.Disabled(nil)
	}
	if s.stats == nil {
		s.stats = monitoring.NewStats(nil)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *Service) Ready() bool {
	return s.pipeline.Ready()
}

func (s *Service) LoadError() error {
	return s.pipeline.LoadError()
}

// Artifacts is nil when the artifacts failed to load.
func (s *Service) Artifacts() *pipeline.Artifacts {
	return s.pipeline.Artifacts()
}

func (s *Service) Fields() []pipeline.FieldSpec {
	return s.pipeline.Fields()
}

func (s *Service) Stats() monitoring.StatsSnapshot {
	return s.stats.Snapshot()
}

// Recommend runs one prediction. Failures to record history or publish to
// the feed are logged and do not fail the recommendation.
func (s *Service) Recommend(ctx context.Context, r pipeline.Readings, source string) (*Recommendation, error) {
	res, err := s.pipeline.Predict(ctx, r)
	if err != nil {
		s.stats.RecordFailure(err)
		s.logger.Info("prediction rejected", zap.String("source", source), zap.Error(err))
		return nil, err
	}
	s.stats.RecordSuccess()

	rec := &Recommendation{
		ID:         uuid.NewString(),
		Source:     source,
		Crop:       res.Crop,
		Headline:   crop.Headline(res.Crop),
		Caption:    crop.Caption(res.Crop),
		ClassID:    res.ClassID,
		Confidence: res.Confidence,
		Warnings:   res.Warnings,
		Readings:   r,
		CreatedAt:  s.now().UTC(),
	}
	if advice, ok := crop.AdviceFor(res.Crop); ok {
		rec.Advice = &advice
	}
	if s.images != nil {
		rec.ImageURL, _ = s.images.Lookup(res.Crop)
	}

	s.record(ctx, rec)
	if s.feed != nil {
		if err := s.feed.Publish(monitoring.PredictionEvent, rec); err != nil {
			s.logger.Warn("publish prediction failed", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	s.logger.Info("crop recommended",
		zap.String("id", rec.ID),
		zap.String("source", source),
		zap.String("crop", rec.Crop),
		zap.Float64("confidence", rec.Confidence),
		zap.Bool("cached", res.Cached))
	return rec, nil
}

func (s *Service) record(ctx context.Context, rec *Recommendation) {
	if s.history == nil {
		return
	}
	err := s.history.SavePrediction(ctx, db.PredictionRecord{
		ID:          rec.ID,
		Source:      rec.Source,
		Nitrogen:    rec.Readings.Nitrogen,
		Phosphorus:  rec.Readings.Phosphorus,
		Potassium:   rec.Readings.Potassium,
		Temperature: rec.Readings.Temperature,
		Humidity:    rec.Readings.Humidity,
		PH:          rec.Readings.PH,
		Rainfall:    rec.Readings.Rainfall,
		Crop:        rec.Crop,
		ClassID:     rec.ClassID,
		Confidence:  rec.Confidence,
		CreatedAt:   rec.CreatedAt,
	})
	if err != nil {
		s.stats.RecordHistoryFailure()
		s.logger.Warn("save prediction history failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

// History returns the most recent recommendations; without a store it is
// always empty.
func (s *Service) History(ctx context.Context, limit int) ([]db.PredictionRecord, error) {
	if s.history == nil {
		return []db.PredictionRecord{}, nil
	}
	return s.history.RecentPredictions(ctx, limit)
}

// CropCounts tallies recorded recommendations per crop.
func (s *Service) CropCounts(ctx context.Context) (map[string]int, error) {
	if s.history == nil {
		return map[string]int{}, nil
	}
	return s.history.CountByCrop(ctx)
}
