package network

import (
	"encoding/json"
	"fmt"
)

type modelBlob struct {
	Layers       []int         `json:"layers"`
	Weights      [][][]float64 `json:"weights"`
	Biases       [][]float64   `json:"biases"`
	LearningRate float64       `json:"learning_rate"`
}

// Export serializes the full model state as an opaque blob.
func (e *Engine) Export() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.layers) == 0 {
		return nil, ErrNotConfigured
	}
	return json.Marshal(modelBlob{
		Layers:       e.layers,
		Weights:      e.weights,
		Biases:       e.biases,
		LearningRate: e.learningRate,
	})
}

// Import fully replaces internal state from a previously exported blob.
func (e *Engine) Import(b []byte) error {
	var m modelBlob
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("import model: %w", err)
	}
	if len(m.Layers) < 2 || len(m.Weights) != len(m.Layers)-1 || len(m.Biases) != len(m.Layers)-1 {
		return fmt.Errorf("%w: malformed model blob", ErrInvalidInput)
	}
	if m.Layers[len(m.Layers)-1] != 1 {
		return fmt.Errorf("%w: output layer must have size 1, got %d", ErrInvalidInput, m.Layers[len(m.Layers)-1])
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers = m.Layers
	e.weights = m.Weights
	e.biases = m.Biases
	e.learningRate = m.LearningRate
	return nil
}
