package monitoring

import (
	"errors"
	"sync/atomic"
	"time"

	"croprec/pipeline"
)

// Stats counts prediction outcomes since start.
type Stats struct {
	started time.Time
	hub     *Hub

	success     atomic.Int64
	predictFail atomic.Int64
	invalid     atomic.Int64
	unavailable atomic.Int64
	historyFail atomic.Int64
}

// StatsSnapshot is the JSON view of Stats.
type StatsSnapshot struct {
	Predictions        int64     `json:"predictions"`
	PredictionFailures int64     `json:"prediction_failures"`
	ValidationFailures int64     `json:"validation_failures"`
	Unavailable        int64     `json:"unavailable"`
	HistoryFailures    int64     `json:"history_failures"`
	FeedClients        int       `json:"feed_clients"`
	FeedMessagesSent   int64     `json:"feed_messages_sent"`
	FeedDropped        int64     `json:"feed_dropped"`
	StartedAt          time.Time `json:"started_at"`
	UptimeSeconds      float64   `json:"uptime_seconds"`
}

// NewStats starts the counters. hub may be nil.
func NewStats(hub *Hub) *Stats {
	return &Stats{started: time.Now(), hub: hub}
}

func (s *Stats) RecordSuccess() {
	s.success.Add(1)
}

// RecordFailure files err under validation, artifact-load or prediction
// failures.
func (s *Stats) RecordFailure(err error) {
	var verr *pipeline.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		s.invalid.Add(1)
	case errors.Is(err, pipeline.ErrArtifactLoad):
		s.unavailable.Add(1)
	default:
		s.predictFail.Add(1)
	}
}

func (s *Stats) RecordHistoryFailure() {
	s.historyFail.Add(1)
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Predictions:        s.success.Load(),
		PredictionFailures: s.predictFail.Load(),
		ValidationFailures: s.invalid.Load(),
		Unavailable:        s.unavailable.Load(),
		HistoryFailures:    s.historyFail.Load(),
		StartedAt:          s.started.UTC(),
		UptimeSeconds:      time.Since(s.started).Seconds(),
	}
	if s.hub != nil {
		snap.FeedClients = s.hub.Clients()
		snap.FeedMessagesSent = s.hub.sent.Load()
		snap.FeedDropped = s.hub.dropped.Load()
	}
	return snap
}
