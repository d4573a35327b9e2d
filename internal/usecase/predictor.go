package usecase

import (
	"context"
	"math"
	"sync"
	"time"

	"TickLab/internal/domain/models"
	"TickLab/internal/domain/repository"
	"TickLab/internal/service/network"
	"TickLab/internal/service/stream"
	applogger "TickLab/pkg/logger"

	"github.com/google/uuid"
)

// Mode selects the confidence threshold a candidate prediction must clear
// before it is armed.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeNormal Mode = "normal"
	ModeFast   Mode = "fast"
)

// Threshold returns the minimum confidence for the mode. Unknown modes
// fall back to normal.
func (m Mode) Threshold() float64 {
	switch m {
	case ModeStrict:
		return 0.75
	case ModeFast:
		return 0.51
	default:
		return 0.60
	}
}

const (
	// minWindowTicks is how much history an attempt needs before the
	// engine is consulted at all.
	minWindowTicks = 20
	// windowCap bounds the rolling price window.
	windowCap = 256
	// armCountdownTicks is the number of countdown steps between a
	// candidate clearing the threshold and the prediction being committed.
	armCountdownTicks = 10
	// lookAheadTicks is how many ticks after commit settle the outcome.
	lookAheadTicks = 3

	defaultAttemptInterval = 5 * time.Second
	defaultArmTickInterval = time.Second
)

func predictorStateKey(userID string) string { return "predictor:" + userID }

// PredictorOption tunes a PredictionCycle.
type PredictorOption func(*PredictionCycle)

// WithAttemptInterval overrides how often an idle cycle looks for a new
// candidate.
func WithAttemptInterval(d time.Duration) PredictorOption {
	return func(p *PredictionCycle) { p.attemptInterval = d }
}

// WithArmTickInterval overrides the countdown step duration.
func WithArmTickInterval(d time.Duration) PredictorOption {
	return func(p *PredictionCycle) { p.armTickInterval = d }
}

// PredictionCycle periodically asks the network engine for a directional
// call on the price stream, arms it through a countdown, commits it as a
// durable pending prediction, and settles it a fixed number of ticks
// later. At most one prediction is pending at a time.
type PredictionCycle struct {
	log     *applogger.Logger
	store   repository.RecordStore
	cache   repository.StateCache
	pub     repository.Publisher
	metrics repository.Metrics
	net     *network.Engine
	source  TickSource
	userID  string

	attemptInterval time.Duration
	armTickInterval time.Duration

	mu        sync.Mutex
	mode      Mode
	running   bool
	window    []float64
	pending   *models.Prediction
	remaining int
	wins      int
	losses    int
	sub       *stream.Subscription
	cancel    context.CancelFunc
}

// NewPredictionCycle creates an idle cycle in normal mode.
func NewPredictionCycle(
	log *applogger.Logger,
	store repository.RecordStore,
	cache repository.StateCache,
	pub repository.Publisher,
	metrics repository.Metrics,
	net *network.Engine,
	source TickSource,
	userID string,
	opts ...PredictorOption,
) *PredictionCycle {
	p := &PredictionCycle{
		log:             log,
		store:           store,
		cache:           cache,
		pub:             pub,
		metrics:         metrics,
		net:             net,
		source:          source,
		userID:          userID,
		mode:            ModeNormal,
		attemptInterval: defaultAttemptInterval,
		armTickInterval: defaultArmTickInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Restore reloads the pending prediction and the win/loss tally from the
// state cache so an interrupted cycle resumes instead of double-counting.
func (p *PredictionCycle) Restore(ctx context.Context) error {
	if p.cache == nil {
		return nil
	}
	var st models.PredictorState
	if err := p.cache.Get(ctx, predictorStateKey(p.userID), &st); err != nil {
		if err == repository.ErrCacheMiss {
			return nil
		}
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = st.Pending
	p.remaining = st.Remaining
	p.wins = st.Wins
	p.losses = st.Losses
	return nil
}

// SetMode switches the confidence threshold for future attempts.
func (p *PredictionCycle) SetMode(m Mode) {
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
}

// CurrentMode returns the active mode.
func (p *PredictionCycle) CurrentMode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Start subscribes to the tick source and launches the attempt loop.
func (p *PredictionCycle) Start(ctx context.Context) error {
	if p.userID == "" {
		return ErrNoUser
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	if !p.source.IsConnected() {
		p.mu.Unlock()
		return ErrStreamNotConnected
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.sub = p.source.Subscribe()
	p.running = true
	sub := p.sub
	p.mu.Unlock()

	go p.consume(runCtx, sub)
	go p.attemptLoop(runCtx)
	if p.log != nil {
		p.log.Info("prediction cycle started",
			applogger.String("user", p.userID),
			applogger.String("mode", string(p.CurrentMode())))
	}
	return nil
}

// Stop halts the cycle. A pending prediction stays persisted and is
// settled after the next Start and Restore.
func (p *PredictionCycle) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	sub := p.sub
	p.sub = nil
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		p.source.Unsubscribe(sub)
	}
	p.persistState(context.Background())
}

func (p *PredictionCycle) consume(ctx context.Context, sub *stream.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-sub.Ticks:
			if !ok {
				return
			}
			p.OnTick(ctx, t)
		case _, ok := <-sub.Events:
			if !ok {
				return
			}
		}
	}
}

// OnTick extends the rolling window and counts down a pending
// prediction's settlement.
func (p *PredictionCycle) OnTick(ctx context.Context, t *models.Tick) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.window = append(p.window, t.Value)
	if len(p.window) > windowCap {
		p.window = p.window[len(p.window)-windowCap:]
	}
	if p.pending != nil {
		p.remaining--
		if p.remaining <= 0 {
			pend := p.pending
			p.pending = nil
			p.remaining = 0
			p.mu.Unlock()
			p.settle(ctx, pend, t.Value)
			return
		}
	}
	p.mu.Unlock()
}

func (p *PredictionCycle) attemptLoop(ctx context.Context) {
	ticker := time.NewTicker(p.attemptInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.attempt(ctx)
		}
	}
}

// attempt evaluates a candidate, arms it through the countdown, and
// commits it if it still clears the threshold afterwards. The commit is
// durable before the prediction becomes observable as pending.
func (p *PredictionCycle) attempt(ctx context.Context) {
	p.mu.Lock()
	if !p.running || p.pending != nil || len(p.window) < minWindowTicks {
		p.mu.Unlock()
		return
	}
	threshold := p.mode.Threshold()
	snapshot := append([]float64(nil), p.window...)
	p.mu.Unlock()

	typ, conf, _ := p.candidate(snapshot)
	if typ == "" || conf < threshold {
		return
	}

	for i := 0; i < armCountdownTicks; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.armTickInterval):
		}
	}

	p.mu.Lock()
	if !p.running || p.pending != nil {
		p.mu.Unlock()
		return
	}
	snapshot = append([]float64(nil), p.window...)
	p.mu.Unlock()

	typ, conf, start := p.candidate(snapshot)
	if typ == "" || conf < threshold {
		if p.log != nil {
			p.log.Debug("candidate faded during countdown",
				applogger.Any("confidence", conf))
		}
		return
	}

	pred := &models.Prediction{
		ID:         uuid.NewString(),
		UserID:     p.userID,
		Type:       typ,
		Confidence: conf,
		StartPrice: start,
		Outcome:    models.OutcomePending,
		CreatedAt:  time.Now(),
	}
	if err := p.store.InsertPrediction(ctx, pred); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("prediction_persist")
		}
		if p.log != nil {
			p.log.Error("prediction persist failed", applogger.Error(err))
		}
		return
	}

	p.mu.Lock()
	p.pending = pred
	p.remaining = lookAheadTicks
	p.mu.Unlock()
	p.persistState(ctx)

	if p.log != nil {
		p.log.Info("prediction committed",
			applogger.String("type", string(typ)),
			applogger.Any("confidence", conf),
			applogger.Any("start_price", start))
	}
}

// candidate asks the engine for a directional call over the most recent
// window. Confidence grows with the gap between the predicted next value
// and the last observed one, clamped to [0.5, 0.95].
func (p *PredictionCycle) candidate(window []float64) (models.PredictionType, float64, float64) {
	w := p.net.InputWidth()
	if w == 0 || len(window) < w {
		return "", 0, 0
	}
	input := window[len(window)-w:]
	out, err := p.net.Predict(input)
	if err != nil || len(out) == 0 {
		return "", 0, 0
	}
	norm := p.net.Normalize(input)
	delta := out[0] - norm[len(norm)-1]

	typ := models.PredictRise
	if delta < 0 {
		typ = models.PredictFall
	}
	conf := 0.5 + math.Min(0.45, math.Abs(delta)/2)
	return typ, conf, window[len(window)-1]
}

// settle scores a matured prediction against the settlement price and
// records the final row.
func (p *PredictionCycle) settle(ctx context.Context, pred *models.Prediction, end float64) {
	now := time.Now()
	pred.EndPrice = end
	pred.Outcome = Score(pred.Type, pred.StartPrice, end)
	pred.CompletedAt = &now

	p.mu.Lock()
	if pred.Outcome == models.OutcomeWin {
		p.wins++
	} else {
		p.losses++
	}
	p.mu.Unlock()

	if err := p.store.InsertPrediction(ctx, pred); err != nil {
		if p.log != nil {
			p.log.Error("prediction settle persist failed", applogger.Error(err))
		}
	}
	if p.metrics != nil {
		p.metrics.RecordPrediction(string(pred.Outcome))
	}
	if p.pub != nil {
		if err := p.pub.Publish(ctx, p.userID, pred); err != nil && p.log != nil {
			p.log.Warn("prediction publish failed", applogger.Error(err))
		}
	}
	p.persistState(ctx)

	if p.log != nil {
		p.log.Info("prediction settled",
			applogger.String("type", string(pred.Type)),
			applogger.String("outcome", string(pred.Outcome)),
			applogger.Any("start", pred.StartPrice),
			applogger.Any("end", end))
	}
}

// Score settles a prediction of the given type against its start and end
// prices. Ties always lose. Parity is judged on the integer cents of the
// settlement price.
func Score(t models.PredictionType, start, end float64) models.Outcome {
	switch t {
	case models.PredictRise:
		if end > start {
			return models.OutcomeWin
		}
	case models.PredictFall:
		if end < start {
			return models.OutcomeWin
		}
	case models.PredictOdd:
		if int64(math.Round(end*100))%2 != 0 {
			return models.OutcomeWin
		}
	case models.PredictEven:
		if int64(math.Round(end*100))%2 == 0 {
			return models.OutcomeWin
		}
	}
	return models.OutcomeLoss
}

// Pending returns a copy of the in-flight prediction, or nil.
func (p *PredictionCycle) Pending() *models.Prediction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return nil
	}
	cp := *p.pending
	return &cp
}

// Stats returns the running win/loss tally.
func (p *PredictionCycle) Stats() models.PredictionStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := models.PredictionStats{Wins: p.wins, Losses: p.losses}
	if total := p.wins + p.losses; total > 0 {
		st.WinRate = float64(p.wins) / float64(total)
	}
	return st
}

func (p *PredictionCycle) persistState(ctx context.Context) {
	if p.cache == nil {
		return
	}
	p.mu.Lock()
	st := models.PredictorState{
		Pending:   p.pending,
		Remaining: p.remaining,
		Wins:      p.wins,
		Losses:    p.losses,
		UpdatedAt: time.Now(),
	}
	p.mu.Unlock()
	if err := p.cache.Set(ctx, predictorStateKey(p.userID), &st, 0); err != nil && p.log != nil {
		p.log.Warn("predictor state write failed", applogger.Error(err))
	}
}
