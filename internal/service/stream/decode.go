package stream

import (
	"encoding/json"
	"math"
	"time"

	"TickLab/internal/domain/models"
)

type msgKind int

const (
	msgTick msgKind = iota
	msgControl
	msgUnknown
)

// pricePrecision is the fixed decimal precision tick values are rounded to.
const pricePrecision = 5

type vendorEnvelope struct {
	Tick *struct {
		Epoch  int64   `json:"epoch"`
		Quote  float64 `json:"quote"`
		Symbol string  `json:"symbol"`
	} `json:"tick"`
}

type symbolPricePair struct {
	S string   `json:"s"`
	P *float64 `json:"p"`
}

type symbolPriceLong struct {
	Symbol string   `json:"symbol"`
	Price  *float64 `json:"price"`
}

type timestampedPrice struct {
	Price     *float64 `json:"price"`
	Timestamp int64    `json:"timestamp"`
	Market    string   `json:"market"`
}

// decodeMessage normalizes the known wire shapes into a Tick. Control
// frames (ping/heartbeat) are recognized and dropped; everything else is
// reported as unknown so the caller can forward the raw payload.
func decodeMessage(b []byte, now time.Time) (*models.Tick, msgKind) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, msgUnknown
	}
	if _, ok := fields["ping"]; ok {
		return nil, msgControl
	}
	if _, ok := fields["heartbeat"]; ok {
		return nil, msgControl
	}

	if _, ok := fields["tick"]; ok {
		var m vendorEnvelope
		if err := json.Unmarshal(b, &m); err == nil && m.Tick != nil {
			return &models.Tick{
				Timestamp: time.Unix(m.Tick.Epoch, 0),
				Value:     roundTo(m.Tick.Quote, pricePrecision),
				Market:    m.Tick.Symbol,
			}, msgTick
		}
		return nil, msgUnknown
	}

	if _, ok := fields["s"]; ok {
		var m symbolPricePair
		if err := json.Unmarshal(b, &m); err == nil && m.P != nil {
			return &models.Tick{
				Timestamp: now,
				Value:     roundTo(*m.P, pricePrecision),
				Market:    m.S,
			}, msgTick
		}
		return nil, msgUnknown
	}

	if _, ok := fields["price"]; !ok {
		return nil, msgUnknown
	}

	if _, ok := fields["symbol"]; ok {
		var m symbolPriceLong
		if err := json.Unmarshal(b, &m); err == nil && m.Price != nil {
			return &models.Tick{
				Timestamp: now,
				Value:     roundTo(*m.Price, pricePrecision),
				Market:    m.Symbol,
			}, msgTick
		}
		return nil, msgUnknown
	}

	var m timestampedPrice
	if err := json.Unmarshal(b, &m); err == nil && m.Price != nil {
		ts := now
		if m.Timestamp > 0 {
			ts = time.Unix(m.Timestamp, 0)
		}
		return &models.Tick{
			Timestamp: ts,
			Value:     roundTo(*m.Price, pricePrecision),
			Market:    m.Market,
		}, msgTick
	}
	return nil, msgUnknown
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
