package models

import "time"

// ConnState is the lifecycle state of the streaming tick client.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

// Tick is one timestamped price observation for a market. Immutable once
// produced by the stream client; ordering is receipt order and duplicates
// are possible.
type Tick struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Market    string    `json:"market"`
}
