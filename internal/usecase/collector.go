package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"TickLab/internal/domain/models"
	"TickLab/internal/domain/repository"
	"TickLab/internal/service/network"
	"TickLab/internal/service/stream"
	applogger "TickLab/pkg/logger"

	"github.com/google/uuid"
)

const (
	// MinBatchSize is the smallest accepted epoch batch size.
	MinBatchSize = 10
	// sessionCheckpoint is how many epochs a training session spans before
	// it is closed with a weight snapshot.
	sessionCheckpoint = 10
)

var (
	ErrNoUser             = errors.New("collector: no user context")
	ErrStreamNotConnected = errors.New("collector: stream not connected")
	ErrBatchTooSmall      = errors.New("collector: batch size below minimum")
)

// TickSource is the slice of the stream client the collector and the
// prediction cycle need.
type TickSource interface {
	IsConnected() bool
	Subscribe() *stream.Subscription
	Unsubscribe(*stream.Subscription)
}

func collectorStateKey(userID string) string { return "collector:" + userID }

// CollectorStatus is a read-only snapshot for observers.
type CollectorStatus struct {
	Active      bool   `json:"active"`
	Processing  bool   `json:"processing"`
	BatchSize   int    `json:"batch_size"`
	EpochNumber int64  `json:"epoch_number"`
	BufferLen   int    `json:"buffer_len"`
	SessionID   string `json:"session_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// EpochCollector turns the tick stream into durable fixed-size training
// batches and drives the network engine, with crash/reload-safe
// resumption. At most one epoch is processed at a time; ticks keep
// accumulating into the next batch while training runs.
type EpochCollector struct {
	log     *applogger.Logger
	store   repository.RecordStore
	cache   repository.StateCache
	pub     repository.Publisher
	metrics repository.Metrics
	net     *network.Engine
	source  TickSource
	userID  string

	trainEpochs int

	mu           sync.Mutex
	batchSize    int
	epochNum     int64
	active       bool
	processing   bool
	buffer       []models.Tick
	session      *models.TrainingSession
	sessionCount int
	lastErr      error
	sub          *stream.Subscription
	cancel       context.CancelFunc
}

// NewEpochCollector creates an idle collector.
func NewEpochCollector(
	log *applogger.Logger,
	store repository.RecordStore,
	cache repository.StateCache,
	pub repository.Publisher,
	metrics repository.Metrics,
	net *network.Engine,
	source TickSource,
	userID string,
	batchSize int,
	trainEpochs int,
) *EpochCollector {
	if batchSize < MinBatchSize {
		batchSize = MinBatchSize
	}
	if trainEpochs <= 0 {
		trainEpochs = 1
	}
	return &EpochCollector{
		log:         log,
		store:       store,
		cache:       cache,
		pub:         pub,
		metrics:     metrics,
		net:         net,
		source:      source,
		userID:      userID,
		batchSize:   batchSize,
		trainEpochs: trainEpochs,
	}
}

// Restore loads resumable state: the local cache first for a fast start,
// then the record store, whose values win.
func (c *EpochCollector) Restore(ctx context.Context) error {
	var st models.CollectorState
	restored := false
	if c.cache != nil {
		if err := c.cache.Get(ctx, collectorStateKey(c.userID), &st); err == nil {
			restored = true
		}
	}
	if remote, err := c.store.CollectorState(ctx, c.userID); err == nil {
		st = *remote
		restored = true
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if !restored {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.BatchSize >= MinBatchSize {
		c.batchSize = st.BatchSize
	}
	if st.EpochNumber > c.epochNum {
		c.epochNum = st.EpochNumber
	}
	if len(st.Buffer) > 0 {
		c.buffer = c.buffer[:0]
		for _, v := range st.Buffer {
			c.buffer = append(c.buffer, models.Tick{Timestamp: st.UpdatedAt, Value: v})
		}
	}
	if len(st.Model) > 0 {
		if err := c.net.Import(st.Model); err != nil && c.log != nil {
			c.log.Warn("restore model failed", applogger.Error(err))
		}
	}
	return nil
}

// Start subscribes to the tick source and begins buffering. Fails when no
// user context is present or the stream is not connected.
func (c *EpochCollector) Start(ctx context.Context) error {
	if c.userID == "" {
		return ErrNoUser
	}
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	if !c.source.IsConnected() {
		c.mu.Unlock()
		return ErrStreamNotConnected
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.sub = c.source.Subscribe()
	c.active = true
	sub := c.sub
	c.mu.Unlock()

	go c.consume(runCtx, sub)
	c.persistState(ctx)
	if c.log != nil {
		c.log.Info("collector started",
			applogger.String("user", c.userID),
			applogger.Int("batch_size", c.BatchSize()))
	}
	return nil
}

// Stop moves the collector to idle. A training run already in flight
// completes and its epoch is still persisted; only new batches stop.
func (c *EpochCollector) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	sub := c.sub
	c.sub = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		c.source.Unsubscribe(sub)
	}
	c.persistState(context.Background())
	if c.log != nil {
		c.log.Info("collector stopped", applogger.String("user", c.userID))
	}
}

func (c *EpochCollector) consume(ctx context.Context, sub *stream.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-sub.Ticks:
			if !ok {
				return
			}
			c.OnTick(ctx, t)
		case _, ok := <-sub.Events:
			if !ok {
				return
			}
		}
	}
}

// OnTick appends a tick to the buffer and triggers epoch processing when
// the batch threshold is reached and no processing is in flight.
func (c *EpochCollector) OnTick(ctx context.Context, t *models.Tick) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.buffer = append(c.buffer, *t)
	trigger := len(c.buffer) >= c.batchSize && !c.processing
	var batch []models.Tick
	if trigger {
		c.processing = true
		batch = append([]models.Tick(nil), c.buffer[:c.batchSize]...)
	}
	c.mu.Unlock()

	if trigger {
		go c.runProcessing(ctx, batch)
	}
}

// runProcessing drains full batches one at a time. The processing latch
// stays held across consecutive batches that accumulated during training.
func (c *EpochCollector) runProcessing(ctx context.Context, batch []models.Tick) {
	for {
		ok := c.processEpoch(ctx, batch)
		c.mu.Lock()
		if !ok || !c.active || len(c.buffer) < c.batchSize {
			c.processing = false
			c.mu.Unlock()
			return
		}
		batch = append([]models.Tick(nil), c.buffer[:c.batchSize]...)
		c.mu.Unlock()
	}
}

// processEpoch trains on one batch, persists the epoch record with the
// then-current serialized model, and advances the counters. On failure
// the buffer is preserved and the same batch is retried on the next
// qualifying tick (at-least-once, but epoch numbers are only advanced
// after successful persistence so they never repeat).
func (c *EpochCollector) processEpoch(ctx context.Context, batch []models.Tick) bool {
	start := time.Now()
	values := make([]float64, len(batch))
	for i, t := range batch {
		values[i] = t.Value
	}

	loss, err := c.net.Train(values, network.TrainOptions{MaxEpochs: c.trainEpochs})
	if err != nil {
		c.fail("train", err)
		return false
	}
	blob, err := c.net.Export()
	if err != nil {
		c.fail("export", err)
		return false
	}

	c.mu.Lock()
	next := c.epochNum + 1
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		sess = &models.TrainingSession{
			ID:           uuid.NewString(),
			UserID:       c.userID,
			StartedAt:    time.Now(),
			Status:       models.SessionPending,
			EpochsTarget: sessionCheckpoint,
		}
		if err := c.store.SaveSession(ctx, sess); err != nil {
			c.fail("session", err)
			return false
		}
		c.mu.Lock()
		c.session = sess
		c.mu.Unlock()
	}

	epoch := &models.Epoch{
		UserID:    c.userID,
		Number:    next,
		BatchSize: len(batch),
		Ticks:     batch,
		StartTime: batch[0].Timestamp,
		EndTime:   batch[len(batch)-1].Timestamp,
		Loss:      loss,
		Accuracy:  network.Accuracy(loss),
		Model:     blob,
		SessionID: sess.ID,
	}
	if err := c.store.InsertEpoch(ctx, epoch); err != nil {
		c.fail("persist", err)
		return false
	}

	c.mu.Lock()
	c.epochNum = next
	c.buffer = c.buffer[len(batch):]
	c.sessionCount++
	closeSession := c.sessionCount >= sessionCheckpoint
	c.lastErr = nil
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordEpoch(loss, time.Since(start).Seconds())
	}
	if c.pub != nil {
		if err := c.pub.Publish(ctx, c.userID, epoch); err != nil && c.log != nil {
			c.log.Warn("epoch publish failed", applogger.Error(err))
		}
	}
	if c.log != nil {
		c.log.Info("epoch processed",
			applogger.Int64("epoch", next),
			applogger.Any("loss", loss))
	}

	if closeSession {
		now := time.Now()
		sess.Status = models.SessionCompleted
		sess.CompletedAt = &now
		sess.FinalWeights = blob
		if err := c.store.SaveSession(ctx, sess); err != nil {
			if c.log != nil {
				c.log.Warn("session close failed", applogger.Error(err))
			}
		}
		c.mu.Lock()
		c.session = nil
		c.sessionCount = 0
		c.mu.Unlock()
	}

	c.persistState(ctx)
	return true
}

func (c *EpochCollector) fail(kind string, err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
	if c.log != nil {
		c.log.Error("epoch processing failed",
			applogger.String("stage", kind),
			applogger.Error(err))
	}
}

// SetBatchSize updates and persists the batch size. The in-flight buffer
// is kept; only the future threshold changes.
func (c *EpochCollector) SetBatchSize(ctx context.Context, n int) error {
	if n < MinBatchSize {
		return ErrBatchTooSmall
	}
	c.mu.Lock()
	c.batchSize = n
	c.mu.Unlock()
	c.persistState(ctx)
	return nil
}

// BatchSize returns the current batch threshold.
func (c *EpochCollector) BatchSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchSize
}

// EpochNumber returns the last successfully persisted epoch number.
func (c *EpochCollector) EpochNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochNum
}

// Status returns a point-in-time snapshot.
func (c *EpochCollector) Status() CollectorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CollectorStatus{
		Active:      c.active,
		Processing:  c.processing,
		BatchSize:   c.batchSize,
		EpochNumber: c.epochNum,
		BufferLen:   len(c.buffer),
	}
	if c.session != nil {
		st.SessionID = c.session.ID
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// persistState writes the resumable state through the local cache and to
// the record store. Write failures are logged, never surfaced: state
// persistence must not break the tick path.
func (c *EpochCollector) persistState(ctx context.Context) {
	c.mu.Lock()
	st := models.CollectorState{
		BatchSize:   c.batchSize,
		EpochNumber: c.epochNum,
		Active:      c.active,
		Buffer:      make([]float64, len(c.buffer)),
		UpdatedAt:   time.Now(),
	}
	for i, t := range c.buffer {
		st.Buffer[i] = t.Value
	}
	if c.session != nil {
		st.SessionID = c.session.ID
	}
	c.mu.Unlock()

	if blob, err := c.net.Export(); err == nil {
		st.Model = blob
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, collectorStateKey(c.userID), &st, 0); err != nil && c.log != nil {
			c.log.Warn("state cache write failed", applogger.Error(err))
		}
	}
	if err := c.store.SaveCollectorState(ctx, c.userID, &st); err != nil && c.log != nil {
		c.log.Warn("state store write failed", applogger.Error(err))
	}
}
