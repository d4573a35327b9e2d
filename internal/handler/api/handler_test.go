package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"TickLab/internal/domain/models"
	"TickLab/internal/domain/repository"
)

type epochStore struct {
	epochs []*models.Epoch
}

func (s *epochStore) InsertTick(context.Context, string, *models.Tick) error          { return nil }
func (s *epochStore) InsertEpoch(context.Context, *models.Epoch) error                { return nil }
func (s *epochStore) SaveSession(context.Context, *models.TrainingSession) error      { return nil }
func (s *epochStore) InsertPrediction(context.Context, *models.Prediction) error      { return nil }
func (s *epochStore) RecentEpochs(_ context.Context, _ string, limit int) ([]*models.Epoch, error) {
	if limit > len(s.epochs) {
		limit = len(s.epochs)
	}
	out := make([]*models.Epoch, limit)
	copy(out, s.epochs[:limit])
	return out, nil
}
func (s *epochStore) RecentTicks(context.Context, string, int) ([]*models.Tick, error) {
	return nil, nil
}
func (s *epochStore) CollectorState(context.Context, string) (*models.CollectorState, error) {
	return nil, repository.ErrNotFound
}
func (s *epochStore) SaveCollectorState(context.Context, string, *models.CollectorState) error {
	return nil
}
func (s *epochStore) Health(context.Context) error { return nil }
func (s *epochStore) Close() error                 { return nil }

type listEnvelope struct {
	Status int `json:"status"`
	Data   struct {
		Rows  []models.Epoch `json:"rows"`
		Total int64          `json:"total"`
	} `json:"data"`
}

func callEpochs(t *testing.T, h *Handler, query string) listEnvelope {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/epochs?"+query, nil)
	rec := httptest.NewRecorder()
	if err := h.Epochs(e.NewContext(req, rec)); err != nil {
		t.Fatalf("epochs: %v", err)
	}
	var env listEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func TestEpochsSinceFilter(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &epochStore{}
	for i := 0; i < 3; i++ {
		store.epochs = append(store.epochs, &models.Epoch{
			UserID:  "user-1",
			Number:  int64(i + 1),
			EndTime: base.Add(time.Duration(i) * time.Minute),
		})
	}
	h := NewHandler(nil, nil, nil, nil, store, "R_100", "user-1")

	env := callEpochs(t, h, "limit=10")
	if env.Data.Total != 3 {
		t.Fatalf("expected 3 epochs unfiltered, got %d", env.Data.Total)
	}

	since := base.Add(30 * time.Second)
	env = callEpochs(t, h, "limit=10&since="+strconv.FormatInt(since.Unix(), 10))
	if env.Data.Total != 2 {
		t.Fatalf("expected 2 epochs after since, got %d", env.Data.Total)
	}
	for _, ep := range env.Data.Rows {
		if ep.EndTime.Before(since) {
			t.Fatalf("epoch %d predates the since bound", ep.Number)
		}
	}

	env = callEpochs(t, h, "limit=10&since="+since.Format(time.RFC3339))
	if env.Data.Total != 2 {
		t.Fatalf("expected RFC3339 since to filter identically, got %d", env.Data.Total)
	}
}

func TestEpochsRejectsMalformedSince(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, &epochStore{}, "R_100", "user-1")
	env := callEpochs(t, h, "since=yesterday")
	if env.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 status, got %d", env.Status)
	}
}

func TestEpochsRejectsLimitOutOfRange(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, &epochStore{}, "R_100", "user-1")
	env := callEpochs(t, h, "limit=0")
	if env.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 status, got %d", env.Status)
	}
}
