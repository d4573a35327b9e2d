package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"TickLab/internal/domain/models"
	"TickLab/internal/domain/repository"
	"TickLab/internal/service/network"
	"TickLab/internal/service/stream"
)

type fakeSource struct {
	connected bool
	sub       *stream.Subscription
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		connected: true,
		sub: &stream.Subscription{
			Ticks:  make(chan *models.Tick, 256),
			Events: make(chan stream.Event, 16),
		},
	}
}

func (f *fakeSource) IsConnected() bool               { return f.connected }
func (f *fakeSource) Subscribe() *stream.Subscription { return f.sub }
func (f *fakeSource) Unsubscribe(*stream.Subscription) {}

type fakeStore struct {
	mu            sync.Mutex
	tickInserts   int
	epochs        []*models.Epoch
	epochAttempts int
	failEpochs    int
	sessions      []*models.TrainingSession
	preds         []*models.Prediction
	state         *models.CollectorState
}

func (s *fakeStore) InsertTick(ctx context.Context, userID string, t *models.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickInserts++
	return nil
}

func (s *fakeStore) InsertEpoch(ctx context.Context, e *models.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochAttempts++
	if s.failEpochs > 0 {
		s.failEpochs--
		return errors.New("store unavailable")
	}
	cp := *e
	s.epochs = append(s.epochs, &cp)
	return nil
}

func (s *fakeStore) SaveSession(ctx context.Context, sess *models.TrainingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions = append(s.sessions, &cp)
	return nil
}

func (s *fakeStore) InsertPrediction(ctx context.Context, p *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.preds = append(s.preds, &cp)
	return nil
}

func (s *fakeStore) RecentEpochs(ctx context.Context, userID string, limit int) ([]*models.Epoch, error) {
	return nil, nil
}

func (s *fakeStore) RecentTicks(ctx context.Context, market string, limit int) ([]*models.Tick, error) {
	return nil, nil
}

func (s *fakeStore) CollectorState(ctx context.Context, userID string) (*models.CollectorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, repository.ErrNotFound
	}
	cp := *s.state
	return &cp, nil
}

func (s *fakeStore) SaveCollectorState(ctx context.Context, userID string, st *models.CollectorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.state = &cp
	return nil
}

func (s *fakeStore) Health(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                     { return nil }

func (s *fakeStore) epochCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.epochs)
}

func (s *fakeStore) predCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.preds)
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	b, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return repository.ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = b
	c.mu.Unlock()
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *fakeCache) Close() error { return nil }

func testEngine(t *testing.T) *network.Engine {
	t.Helper()
	eng := network.New(rand.New(rand.NewSource(1)))
	if err := eng.Configure([]int{5, 4, 1}, 0.01, 1); err != nil {
		t.Fatalf("configure engine: %v", err)
	}
	return eng
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func feedTicks(src *fakeSource, values ...float64) {
	for _, v := range values {
		src.sub.Ticks <- &models.Tick{Timestamp: time.Now(), Value: v, Market: "R_100"}
	}
}

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestCollectorStartRequiresUser(t *testing.T) {
	c := NewEpochCollector(nil, &fakeStore{}, newFakeCache(), nil, nil, testEngine(t), newFakeSource(), "", 10, 1)
	if err := c.Start(context.Background()); !errors.Is(err, ErrNoUser) {
		t.Fatalf("expected ErrNoUser, got %v", err)
	}
}

func TestCollectorStartRequiresConnection(t *testing.T) {
	src := newFakeSource()
	src.connected = false
	c := NewEpochCollector(nil, &fakeStore{}, newFakeCache(), nil, nil, testEngine(t), src, "user-1", 10, 1)
	if err := c.Start(context.Background()); !errors.Is(err, ErrStreamNotConnected) {
		t.Fatalf("expected ErrStreamNotConnected, got %v", err)
	}
}

func TestCollectorBatchSizeFloor(t *testing.T) {
	c := NewEpochCollector(nil, &fakeStore{}, newFakeCache(), nil, nil, testEngine(t), newFakeSource(), "user-1", 3, 1)
	if got := c.BatchSize(); got != MinBatchSize {
		t.Fatalf("batch size = %d, want floor %d", got, MinBatchSize)
	}
	if err := c.SetBatchSize(context.Background(), 5); !errors.Is(err, ErrBatchTooSmall) {
		t.Fatalf("expected ErrBatchTooSmall, got %v", err)
	}
	if err := c.SetBatchSize(context.Background(), 25); err != nil {
		t.Fatalf("SetBatchSize(25): %v", err)
	}
	if got := c.BatchSize(); got != 25 {
		t.Fatalf("batch size = %d, want 25", got)
	}
}

func TestCollectorProcessesOneEpoch(t *testing.T) {
	store := &fakeStore{}
	src := newFakeSource()
	c := NewEpochCollector(nil, store, newFakeCache(), nil, nil, testEngine(t), src, "user-1", 10, 1)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	feedTicks(src, ramp(10)...)
	waitFor(t, func() bool { return store.epochCount() == 1 }, 3*time.Second, "one epoch")

	store.mu.Lock()
	e := store.epochs[0]
	store.mu.Unlock()
	if e.Number != 1 {
		t.Fatalf("epoch number = %d, want 1", e.Number)
	}
	if len(e.Ticks) != 10 || e.BatchSize != 10 {
		t.Fatalf("epoch batch = %d ticks / size %d, want 10/10", len(e.Ticks), e.BatchSize)
	}
	if e.Accuracy <= 0 || e.Accuracy > 1 {
		t.Fatalf("accuracy = %v, want (0, 1]", e.Accuracy)
	}
	if len(e.Model) == 0 {
		t.Fatal("epoch persisted without model snapshot")
	}
	if e.SessionID == "" {
		t.Fatal("epoch persisted without session")
	}

	waitFor(t, func() bool { return c.Status().BufferLen == 0 }, time.Second, "buffer drained")
	if got := c.EpochNumber(); got != 1 {
		t.Fatalf("epoch counter = %d, want 1", got)
	}
}

func TestCollectorRetryKeepsBufferAndNumber(t *testing.T) {
	store := &fakeStore{failEpochs: 1}
	src := newFakeSource()
	c := NewEpochCollector(nil, store, newFakeCache(), nil, nil, testEngine(t), src, "user-1", 10, 1)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	feedTicks(src, ramp(10)...)
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.epochAttempts == 1
	}, 3*time.Second, "first failed attempt")

	waitFor(t, func() bool {
		st := c.Status()
		return !st.Processing && st.LastError != ""
	}, time.Second, "failure recorded")
	if st := c.Status(); st.BufferLen != 10 || st.EpochNumber != 0 {
		t.Fatalf("after failure: buffer=%d epoch=%d, want 10/0", st.BufferLen, st.EpochNumber)
	}

	// The next qualifying tick retries the same batch.
	feedTicks(src, 11)
	waitFor(t, func() bool { return store.epochCount() == 1 }, 3*time.Second, "retried epoch")
	if got := c.EpochNumber(); got != 1 {
		t.Fatalf("epoch counter = %d, want 1 after retry", got)
	}
	store.mu.Lock()
	num := store.epochs[0].Number
	store.mu.Unlock()
	if num != 1 {
		t.Fatalf("persisted epoch number = %d, want 1", num)
	}
}

func TestCollectorClosesSessionEveryTenEpochs(t *testing.T) {
	store := &fakeStore{}
	src := newFakeSource()
	c := NewEpochCollector(nil, store, newFakeCache(), nil, nil, testEngine(t), src, "user-1", 10, 1)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	feedTicks(src, ramp(100)...)
	waitFor(t, func() bool { return store.epochCount() == 10 }, 10*time.Second, "ten epochs")

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, s := range store.sessions {
			if s.Status == models.SessionCompleted {
				return true
			}
		}
		return false
	}, 3*time.Second, "completed session")

	store.mu.Lock()
	defer store.mu.Unlock()
	var completed *models.TrainingSession
	for _, s := range store.sessions {
		if s.Status == models.SessionCompleted {
			completed = s
		}
	}
	if completed.CompletedAt == nil || len(completed.FinalWeights) == 0 {
		t.Fatal("completed session missing close timestamp or final weights")
	}
	first := store.epochs[0].SessionID
	for _, e := range store.epochs {
		if e.SessionID != first {
			t.Fatalf("epoch %d crossed session boundary", e.Number)
		}
	}
}

func TestCollectorRestorePrefersStore(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	if err := cache.Set(ctx, collectorStateKey("user-1"), &models.CollectorState{
		BatchSize:   15,
		EpochNumber: 5,
		UpdatedAt:   time.Now(),
	}, 0); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	store := &fakeStore{state: &models.CollectorState{
		BatchSize:   20,
		EpochNumber: 12,
		UpdatedAt:   time.Now(),
	}}

	c := NewEpochCollector(nil, store, cache, nil, nil, testEngine(t), newFakeSource(), "user-1", 10, 1)
	if err := c.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := c.EpochNumber(); got != 12 {
		t.Fatalf("epoch counter = %d, want store value 12", got)
	}
	if got := c.BatchSize(); got != 20 {
		t.Fatalf("batch size = %d, want store value 20", got)
	}
}

func TestCollectorRestoreFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	if err := cache.Set(ctx, collectorStateKey("user-1"), &models.CollectorState{
		BatchSize:   15,
		EpochNumber: 5,
		Buffer:      []float64{1, 2, 3},
		UpdatedAt:   time.Now(),
	}, 0); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	c := NewEpochCollector(nil, &fakeStore{}, cache, nil, nil, testEngine(t), newFakeSource(), "user-1", 10, 1)
	if err := c.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := c.EpochNumber(); got != 5 {
		t.Fatalf("epoch counter = %d, want cached value 5", got)
	}
	if st := c.Status(); st.BufferLen != 3 {
		t.Fatalf("restored buffer = %d values, want 3", st.BufferLen)
	}
}
