package models

import "time"

// Epoch is a fixed-size batch of ticks plus the training outcome from
// processing them. Created once the collector's buffer reaches the batch
// size, persisted once, never mutated.
type Epoch struct {
	UserID    string    `json:"user_id"`
	Number    int64     `json:"epoch_number"`
	BatchSize int       `json:"batch_size"`
	Ticks     []Tick    `json:"ticks"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Loss      float64   `json:"loss"`
	Accuracy  float64   `json:"accuracy"`
	Model     []byte    `json:"model"`
	SessionID string    `json:"session_id"`
}

// SessionStatus marks whether a training session is still collecting epochs.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionCompleted SessionStatus = "completed"
)

// TrainingSession groups a run of consecutive epochs sharing a
// weight-snapshot checkpoint cadence.
type TrainingSession struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Status       SessionStatus `json:"status"`
	EpochsTarget int           `json:"epochs_target"`
	FinalWeights []byte        `json:"final_weights,omitempty"`
}

// CollectorState is the epoch collector's resumable state. The record store's
// copy is authoritative; the state cache holds a fast local projection.
type CollectorState struct {
	BatchSize   int       `json:"batch_size"`
	EpochNumber int64     `json:"epoch_number"`
	Active      bool      `json:"active"`
	Buffer      []float64 `json:"buffer,omitempty"`
	Model       []byte    `json:"model,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
