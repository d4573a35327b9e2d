package repository

import (
	"context"
	"errors"
	"time"

	"TickLab/internal/domain/models"
)

// ErrNotFound is returned by record store reads with no matching row.
var ErrNotFound = errors.New("record not found")

// ErrCacheMiss is returned by state cache reads with no cached value.
var ErrCacheMiss = errors.New("cache miss")

// RecordStore is the durable persistence gateway for ticks, epochs,
// training sessions, predictions and per-user resumable state. It is the
// single source of truth; the StateCache is a projection of it.
type RecordStore interface {
	InsertTick(ctx context.Context, userID string, t *models.Tick) error
	InsertEpoch(ctx context.Context, e *models.Epoch) error
	SaveSession(ctx context.Context, s *models.TrainingSession) error
	InsertPrediction(ctx context.Context, p *models.Prediction) error
	RecentEpochs(ctx context.Context, userID string, limit int) ([]*models.Epoch, error)
	RecentTicks(ctx context.Context, market string, limit int) ([]*models.Tick, error)
	CollectorState(ctx context.Context, userID string) (*models.CollectorState, error)
	SaveCollectorState(ctx context.Context, userID string, st *models.CollectorState) error
	Health(ctx context.Context) error
	Close() error
}

// StateCache is a local durable key/blob store holding resumable state.
// Reads on startup happen before the record store responds.
type StateCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Publisher emits completed-epoch and scored-prediction events.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

// Metrics records operational counters and gauges.
type Metrics interface {
	RecordTick(market string, price float64)
	RecordEpoch(loss float64, seconds float64)
	RecordPrediction(outcome string)
	RecordError(kind string)
	RecordStateChange(state string)
}
