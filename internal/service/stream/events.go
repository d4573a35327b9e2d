package stream

import "TickLab/internal/domain/models"

// EventKind discriminates client events delivered alongside ticks.
type EventKind int

const (
	// KindOpen fires once per successful connection.
	KindOpen EventKind = iota
	// KindClose fires when the transport closes, expectedly or not.
	KindClose
	// KindStateChange carries the new connection state.
	KindStateChange
	// KindError carries a non-fatal transport error.
	KindError
	// KindRawMessage carries a wire message that did not decode to a tick.
	KindRawMessage
	// KindGaveUp fires once when the attempt ceiling is exceeded.
	KindGaveUp
)

// Event is a typed client notification.
type Event struct {
	Kind  EventKind
	State models.ConnState
	Err   error
	Raw   []byte
}

// Subscription is one consumer's view of the stream. Ticks and events are
// delivered in receipt order; slow consumers drop messages rather than
// stall the client.
type Subscription struct {
	Ticks  chan *models.Tick
	Events chan Event
}

// Subscribe registers a new consumer.
func (c *Client) Subscribe() *Subscription {
	sub := &Subscription{
		Ticks:  make(chan *models.Tick, 256),
		Events: make(chan Event, 64),
	}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its channels.
func (c *Client) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[sub]; !ok {
		return
	}
	delete(c.subs, sub)
	close(sub.Ticks)
	close(sub.Events)
}

// publishTick fans a tick out to all subscribers. Caller holds c.mu.
func (c *Client) publishTick(t *models.Tick) {
	for sub := range c.subs {
		select {
		case sub.Ticks <- t:
		default:
			// drop on backpressure
		}
	}
}

// publishEvent fans an event out to all subscribers. Caller holds c.mu.
func (c *Client) publishEvent(ev Event) {
	for sub := range c.subs {
		select {
		case sub.Events <- ev:
		default:
		}
	}
}
