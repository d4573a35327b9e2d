package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TickLab/internal/domain/models"
	"TickLab/internal/domain/repository"
	"TickLab/internal/service/ratelimit"
	applogger "TickLab/pkg/logger"

	"github.com/gorilla/websocket"
)

// ErrAttemptsExceeded is returned by Connect once the attempt ceiling is
// reached; an explicit Disconnect resets the counter.
var ErrAttemptsExceeded = errors.New("stream: connection attempts exceeded")

const persistKey = "tick_persist"

// Options tunes the client. Zero values fall back to the defaults below.
type Option func(*Client)

// WithReconnectDelay sets the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithMaxAttempts sets the connection attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithAutoReconnect enables or disables reconnection on unexpected close.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Client) { c.autoReconnect = enabled }
}

// WithWatchdog sets the silence threshold before a keep-alive probe.
func WithWatchdog(after time.Duration) Option {
	return func(c *Client) {
		if after > 0 {
			c.watchdogAfter = after
		}
	}
}

// WithTickStore enables throttled tick persistence for the given user.
func WithTickStore(store repository.RecordStore, userID string, minInterval time.Duration) Option {
	return func(c *Client) {
		c.store = store
		c.userID = userID
		if minInterval > 0 {
			c.persistEvery = minInterval
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m repository.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client owns one logical WebSocket connection to a tick producer. It
// normalizes wire messages into Ticks, fans them out to subscribers, and
// recovers from transport failures per the reconnect policy.
type Client struct {
	log     *applogger.Logger
	metrics repository.Metrics
	store   repository.RecordStore
	userID  string
	limiter *ratelimit.Limiter

	reconnectDelay    time.Duration
	probeDelay        time.Duration
	maxAttempts       int
	watchdogAfter     time.Duration
	freshFor          time.Duration
	persistEvery      time.Duration
	attemptResetAfter time.Duration
	autoReconnect     bool

	mu             sync.Mutex
	conn           *websocket.Conn
	state          models.ConnState
	url            string
	subPayload     interface{}
	attempts       int
	closing        bool
	gen            int
	reconnectTimer *time.Timer
	resetTimer     *time.Timer
	lastMessage    time.Time
	lastTick       time.Time
	lastProbe      time.Time
	subs           map[*Subscription]struct{}
}

// NewClient creates a disconnected client.
func NewClient(log *applogger.Logger, opts ...Option) *Client {
	c := &Client{
		log:               log,
		limiter:           ratelimit.New(),
		reconnectDelay:    5 * time.Second,
		probeDelay:        time.Second,
		maxAttempts:       5,
		watchdogAfter:     15 * time.Second,
		freshFor:          10 * time.Second,
		persistEvery:      500 * time.Millisecond,
		attemptResetAfter: 30 * time.Second,
		autoReconnect:     true,
		state:             models.StateDisconnected,
		subs:              make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() models.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the transport is open.
func (c *Client) IsConnected() bool {
	return c.State() == models.StateConnected
}

// Attempts returns the current connection attempt count.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// HasRecentData reports whether a tick was normalized within the
// freshness window.
func (c *Client) HasRecentData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastTick.IsZero() && time.Since(c.lastTick) <= c.freshFor
}

// Connect opens the transport and sends the subscription payload once the
// connection is up. A no-op while connecting or connected. Fails closed
// after the attempt ceiling.
func (c *Client) Connect(ctx context.Context, url string, subscription interface{}) error {
	c.mu.Lock()
	if c.state == models.StateConnecting || c.state == models.StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.attempts >= c.maxAttempts {
		c.setStateLocked(models.StateError)
		c.publishEvent(Event{Kind: KindGaveUp, Err: ErrAttemptsExceeded})
		c.mu.Unlock()
		return ErrAttemptsExceeded
	}
	c.url = url
	c.subPayload = subscription
	c.closing = false
	c.attempts++
	c.scheduleAttemptResetLocked()
	c.setStateLocked(models.StateConnecting)
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		c.mu.Lock()
		c.publishEvent(Event{Kind: KindError, Err: err})
		if c.metrics != nil {
			c.metrics.RecordError("connect")
		}
		if !c.closing && c.autoReconnect && c.attempts < c.maxAttempts {
			c.setStateLocked(models.StateDisconnected)
			c.scheduleReconnectLocked(c.reconnectDelay)
		} else {
			c.setStateLocked(models.StateError)
			c.publishEvent(Event{Kind: KindGaveUp, Err: err})
		}
		c.mu.Unlock()
		return fmt.Errorf("stream connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.lastMessage = time.Now()
	c.setStateLocked(models.StateConnected)
	c.publishEvent(Event{Kind: KindOpen})
	c.mu.Unlock()

	if c.log != nil {
		c.log.Info("stream connected", applogger.String("url", url))
	}
	if subscription != nil && !c.Send(subscription) {
		if c.log != nil {
			c.log.Warn("subscription send failed")
		}
	}

	go c.readLoop(conn, gen)
	go c.watchdog(gen)
	return nil
}

// Disconnect closes the transport, cancels any pending reconnect, and
// resets the attempt counter. Idempotent; suppresses auto-reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
	if c.conn != nil {
		c.gen++
		_ = c.conn.Close()
		c.conn = nil
	}
	c.attempts = 0
	c.setStateLocked(models.StateDisconnected)
}

// Send writes v as JSON to the transport. Returns false, never an error,
// when the transport is not open or the write fails.
func (c *Client) Send(v interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != models.StateConnected {
		return false
	}
	return c.conn.WriteJSON(v) == nil
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.handleMessage(b)
	}
}

func (c *Client) handleMessage(b []byte) {
	now := time.Now()
	c.mu.Lock()
	c.lastMessage = now

	tick, kind := decodeMessage(b, now)
	switch kind {
	case msgControl:
		c.mu.Unlock()
		return
	case msgUnknown:
		c.publishEvent(Event{Kind: KindRawMessage, Raw: b})
		c.mu.Unlock()
		return
	}

	c.lastTick = now
	c.publishTick(tick)
	persist := c.store != nil && c.limiter.Allow(persistKey, 1, float64(time.Second)/float64(c.persistEvery))
	store, userID := c.store, c.userID
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordTick(tick.Market, tick.Value)
	}
	if persist {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := store.InsertTick(ctx, userID, tick); err != nil {
				if c.metrics != nil {
					c.metrics.RecordError("tick_persist")
				}
				if c.log != nil {
					c.log.Warn("tick persist failed", applogger.Error(err))
				}
			}
		}()
	}
}

func (c *Client) handleClose(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return // superseded connection
	}
	c.conn = nil
	c.publishEvent(Event{Kind: KindClose, Err: err})
	if c.closing {
		c.setStateLocked(models.StateDisconnected)
		return
	}
	if c.metrics != nil {
		c.metrics.RecordError("unexpected_close")
	}
	if c.autoReconnect && c.attempts < c.maxAttempts {
		c.setStateLocked(models.StateDisconnected)
		c.scheduleReconnectLocked(c.reconnectDelay)
	} else {
		c.setStateLocked(models.StateError)
		c.publishEvent(Event{Kind: KindGaveUp, Err: err})
	}
}

// watchdog probes a silently-stalled connection and forces recovery when
// the probe cannot be sent.
func (c *Client) watchdog(gen int) {
	interval := c.watchdogAfter / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		stalled := c.state == models.StateConnected &&
			time.Since(c.lastMessage) > c.watchdogAfter &&
			time.Since(c.lastProbe) > c.watchdogAfter
		if stalled {
			c.lastProbe = time.Now()
		}
		c.mu.Unlock()

		if !stalled {
			continue
		}
		if c.log != nil {
			c.log.Warn("stream stalled, sending probe")
		}
		if !c.Send(map[string]int{"ping": 1}) {
			c.forceReconnect(gen)
			return
		}
	}
}

// forceReconnect tears the connection down and schedules a short-delay
// reconnect, invalidating the old read loop.
func (c *Client) forceReconnect(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closing {
		return
	}
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(models.StateDisconnected)
	if c.autoReconnect && c.attempts < c.maxAttempts {
		c.scheduleReconnectLocked(c.probeDelay)
	} else {
		c.setStateLocked(models.StateError)
		c.publishEvent(Event{Kind: KindGaveUp})
	}
}

// scheduleReconnectLocked arms the reconnect timer. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked(d time.Duration) {
	if c.reconnectTimer != nil {
		return
	}
	c.reconnectTimer = time.AfterFunc(d, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if c.closing {
			c.mu.Unlock()
			return
		}
		url, payload := c.url, c.subPayload
		c.mu.Unlock()
		_ = c.Connect(context.Background(), url, payload)
	})
}

// scheduleAttemptResetLocked arms the cool-down that clears the attempt
// counter after a quiet period. Caller holds c.mu.
func (c *Client) scheduleAttemptResetLocked() {
	if c.resetTimer != nil {
		c.resetTimer.Stop()
	}
	c.resetTimer = time.AfterFunc(c.attemptResetAfter, func() {
		c.mu.Lock()
		c.attempts = 0
		c.resetTimer = nil
		c.mu.Unlock()
	})
}

// setStateLocked transitions the connection state and notifies
// subscribers. Caller holds c.mu.
func (c *Client) setStateLocked(s models.ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.metrics != nil {
		c.metrics.RecordStateChange(string(s))
	}
	c.publishEvent(Event{Kind: KindStateChange, State: s})
}
