package models

import "time"

// PredictionType is the directional rule a prediction is scored under.
type PredictionType string

const (
	PredictRise PredictionType = "rise"
	PredictFall PredictionType = "fall"
	PredictOdd  PredictionType = "odd"
	PredictEven PredictionType = "even"
)

// Outcome is the scored result of a prediction.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
)

// Prediction is a committed directional guess awaiting enough subsequent
// ticks to be scored.
type Prediction struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Type        PredictionType `json:"type"`
	Confidence  float64        `json:"confidence"`
	StartPrice  float64        `json:"start_price"`
	EndPrice    float64        `json:"end_price,omitempty"`
	Outcome     Outcome        `json:"outcome"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// PredictionStats is the running win/loss tally for a prediction cycle.
type PredictionStats struct {
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
}

// PredictorState is the prediction cycle's resumable state: the pending
// prediction, if any, and how many look-ahead ticks remain before scoring.
type PredictorState struct {
	Pending   *Prediction `json:"pending,omitempty"`
	Remaining int         `json:"remaining"`
	Wins      int         `json:"wins"`
	Losses    int         `json:"losses"`
	UpdatedAt time.Time   `json:"updated_at"`
}
