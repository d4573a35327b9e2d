package usecase

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"TickLab/internal/domain/models"
	"TickLab/internal/service/network"
)

func TestScore(t *testing.T) {
	cases := []struct {
		name  string
		typ   models.PredictionType
		start float64
		end   float64
		want  models.Outcome
	}{
		{"rise up wins", models.PredictRise, 100, 105, models.OutcomeWin},
		{"rise tie loses", models.PredictRise, 100, 100, models.OutcomeLoss},
		{"rise down loses", models.PredictRise, 100, 99.5, models.OutcomeLoss},
		{"fall down wins", models.PredictFall, 100, 99.5, models.OutcomeWin},
		{"fall tie loses", models.PredictFall, 100, 100, models.OutcomeLoss},
		{"fall up loses", models.PredictFall, 100, 101, models.OutcomeLoss},
		{"odd cents win", models.PredictOdd, 0, 1.23, models.OutcomeWin},
		{"odd even cents lose", models.PredictOdd, 0, 1.24, models.OutcomeLoss},
		{"even cents win", models.PredictEven, 0, 1.24, models.OutcomeWin},
		{"even odd cents lose", models.PredictEven, 0, 1.23, models.OutcomeLoss},
		{"unknown type loses", models.PredictionType("hold"), 100, 200, models.OutcomeLoss},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.typ, tc.start, tc.end); got != tc.want {
				t.Fatalf("Score(%s, %v, %v) = %s, want %s", tc.typ, tc.start, tc.end, got, tc.want)
			}
		})
	}
}

func TestModeThresholds(t *testing.T) {
	if got := ModeStrict.Threshold(); got != 0.75 {
		t.Fatalf("strict threshold = %v, want 0.75", got)
	}
	if got := ModeNormal.Threshold(); got != 0.60 {
		t.Fatalf("normal threshold = %v, want 0.60", got)
	}
	if got := ModeFast.Threshold(); got != 0.51 {
		t.Fatalf("fast threshold = %v, want 0.51", got)
	}
	if got := Mode("bogus").Threshold(); got != 0.60 {
		t.Fatalf("unknown mode threshold = %v, want normal fallback", got)
	}
}

// zeroEngine builds an engine whose output is always 0, making the
// candidate direction and confidence a pure function of the window.
func zeroEngine(t *testing.T) *network.Engine {
	t.Helper()
	eng := network.New(rand.New(rand.NewSource(1)))
	blob := []byte(`{
		"layers": [4, 1],
		"weights": [[[0], [0], [0], [0]]],
		"biases": [[0]],
		"learning_rate": 0.01
	}`)
	if err := eng.Import(blob); err != nil {
		t.Fatalf("import zero model: %v", err)
	}
	return eng
}

func TestPredictorStartRequiresConnection(t *testing.T) {
	src := newFakeSource()
	src.connected = false
	p := NewPredictionCycle(nil, &fakeStore{}, newFakeCache(), nil, nil, zeroEngine(t), src, "user-1")
	if err := p.Start(context.Background()); err != ErrStreamNotConnected {
		t.Fatalf("expected ErrStreamNotConnected, got %v", err)
	}
}

func TestPredictorSettlesRestoredPending(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	pending := &models.Prediction{
		ID:         "p-1",
		UserID:     "user-1",
		Type:       models.PredictRise,
		Confidence: 0.8,
		StartPrice: 100,
		Outcome:    models.OutcomePending,
		CreatedAt:  time.Now(),
	}
	if err := cache.Set(ctx, predictorStateKey("user-1"), &models.PredictorState{
		Pending:   pending,
		Remaining: 3,
		Wins:      2,
		Losses:    1,
		UpdatedAt: time.Now(),
	}, 0); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	store := &fakeStore{}
	src := newFakeSource()
	p := NewPredictionCycle(nil, store, cache, nil, nil, zeroEngine(t), src, "user-1",
		WithAttemptInterval(time.Hour))
	if err := p.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if p.Pending() == nil {
		t.Fatal("pending prediction not restored")
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	// Three more ticks settle it; the last one is the settlement price.
	feedTicks(src, 101, 102, 105)
	waitFor(t, func() bool { return p.Pending() == nil }, 3*time.Second, "settlement")

	stats := p.Stats()
	if stats.Wins != 3 || stats.Losses != 1 {
		t.Fatalf("stats = %d/%d, want 3 wins 1 loss", stats.Wins, stats.Losses)
	}
	waitFor(t, func() bool { return store.predCount() == 1 }, time.Second, "settled row")
	store.mu.Lock()
	settled := store.preds[0]
	store.mu.Unlock()
	if settled.Outcome != models.OutcomeWin || settled.EndPrice != 105 {
		t.Fatalf("settled = %s @ %v, want win @ 105", settled.Outcome, settled.EndPrice)
	}
	if settled.CompletedAt == nil {
		t.Fatal("settled prediction missing completion timestamp")
	}
}

func TestPredictorCommitsAndSettles(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	src := newFakeSource()
	// Zero model output against a rising window always reads as a
	// confident fall call.
	p := NewPredictionCycle(nil, store, newFakeCache(), nil, nil, zeroEngine(t), src, "user-1",
		WithAttemptInterval(10*time.Millisecond),
		WithArmTickInterval(time.Millisecond))
	p.SetMode(ModeStrict)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	feedTicks(src, ramp(25)...)
	waitFor(t, func() bool { return p.Pending() != nil }, 5*time.Second, "committed prediction")

	pend := p.Pending()
	if pend.Type != models.PredictFall {
		t.Fatalf("prediction type = %s, want fall against a zero-output model", pend.Type)
	}
	if pend.Confidence < ModeStrict.Threshold() {
		t.Fatalf("committed confidence %v below strict threshold", pend.Confidence)
	}
	if pend.Outcome != models.OutcomePending {
		t.Fatalf("committed outcome = %s, want pending", pend.Outcome)
	}
	if store.predCount() != 1 {
		t.Fatalf("pending row count = %d, want 1", store.predCount())
	}

	// Prices collapse below the start price: the fall call wins.
	feedTicks(src, 1, 1, 1)
	waitFor(t, func() bool { return p.Stats().Wins == 1 }, 3*time.Second, "win recorded")

	waitFor(t, func() bool { return store.predCount() >= 2 }, time.Second, "settled row")
	store.mu.Lock()
	var settled *models.Prediction
	for _, pr := range store.preds {
		if pr.Outcome != models.OutcomePending {
			settled = pr
		}
	}
	store.mu.Unlock()
	if settled == nil {
		t.Fatal("no settled prediction row persisted")
	}
	if settled.Outcome != models.OutcomeWin {
		t.Fatalf("settled outcome = %s, want win", settled.Outcome)
	}
	if settled.StartPrice <= settled.EndPrice {
		t.Fatalf("fall won with start %v <= end %v", settled.StartPrice, settled.EndPrice)
	}
}

func TestPredictorSingleFlight(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	src := newFakeSource()
	p := NewPredictionCycle(nil, store, newFakeCache(), nil, nil, zeroEngine(t), src, "user-1",
		WithAttemptInterval(5*time.Millisecond),
		WithArmTickInterval(time.Millisecond))
	p.SetMode(ModeFast)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	feedTicks(src, ramp(25)...)
	waitFor(t, func() bool { return p.Pending() != nil }, 5*time.Second, "committed prediction")

	// Many attempt intervals pass while one prediction is pending; no
	// second commit may happen.
	time.Sleep(100 * time.Millisecond)
	if got := store.predCount(); got != 1 {
		t.Fatalf("prediction rows = %d while pending, want 1", got)
	}
}
