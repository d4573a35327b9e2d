package network

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrInvalidInput marks an input whose shape violates the configured
// topology. Never retried; the caller must correct the input.
var ErrInvalidInput = errors.New("network: invalid input")

// ErrNotConfigured is returned when predict/train run before Configure.
var ErrNotConfigured = errors.New("network: not configured")

const defaultMiniBatch = 32

// TrainOptions controls a training run.
type TrainOptions struct {
	MaxEpochs  int
	MiniBatch  int
	OnProgress func(fraction float64)
}

// Engine holds a fixed-topology feed-forward network and performs
// normalization, forward inference and online gradient-descent training.
// Single-owner: callers must serialize Train/Predict themselves; the
// internal lock only protects against torn export/import.
type Engine struct {
	mu           sync.Mutex
	layers       []int
	weights      [][][]float64 // [layer][in][out]
	biases       [][]float64   // [layer][out]
	learningRate float64
	epochs       int
	rng          *rand.Rand
}

// New creates an engine with an injected random source so weight
// initialization can be seeded in tests. A nil rng falls back to a
// time-seeded source.
func New(rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{rng: rng}
}

// Configure resets weights and biases for the given layer sizes using
// Xavier-style scaled-random initialization; biases start at zero.
func (e *Engine) Configure(layers []int, learningRate float64, epochs int) error {
	if len(layers) < 2 {
		return fmt.Errorf("%w: need at least input and output layers", ErrInvalidInput)
	}
	for _, n := range layers {
		if n < 1 {
			return fmt.Errorf("%w: layer size must be positive", ErrInvalidInput)
		}
	}
	// Training targets are single next-tick values, so the output layer
	// must be exactly one unit wide.
	if layers[len(layers)-1] != 1 {
		return fmt.Errorf("%w: output layer must have size 1, got %d", ErrInvalidInput, layers[len(layers)-1])
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.layers = append([]int(nil), layers...)
	e.learningRate = learningRate
	e.epochs = epochs
	e.weights = make([][][]float64, len(layers)-1)
	e.biases = make([][]float64, len(layers)-1)
	for l := 0; l < len(layers)-1; l++ {
		fanIn, fanOut := layers[l], layers[l+1]
		limit := math.Sqrt(2.0 / float64(fanIn+fanOut))
		e.weights[l] = make([][]float64, fanIn)
		for i := 0; i < fanIn; i++ {
			e.weights[l][i] = make([]float64, fanOut)
			for j := 0; j < fanOut; j++ {
				e.weights[l][i][j] = (e.rng.Float64()*2 - 1) * limit
			}
		}
		e.biases[l] = make([]float64, fanOut)
	}
	return nil
}

// InputWidth returns the configured input layer size, 0 when unconfigured.
func (e *Engine) InputWidth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.layers) == 0 {
		return 0
	}
	return e.layers[0]
}

// Normalize returns a z-score-normalized copy of series. A constant
// series divides by 1 instead of zero and comes back all zeros.
func (e *Engine) Normalize(series []float64) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}
	mean, sigma := meanStddev(series)
	if sigma == 0 {
		sigma = 1
	}
	for i, v := range series {
		out[i] = (v - mean) / sigma
	}
	return out
}

// Predict normalizes input and runs one forward pass, returning the
// output layer activations.
func (e *Engine) Predict(input []float64) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.layers) == 0 {
		return nil, ErrNotConfigured
	}
	if len(input) != e.layers[0] {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInvalidInput, e.layers[0], len(input))
	}
	acts, _ := e.forward(e.Normalize(input))
	out := acts[len(acts)-1]
	return append([]float64(nil), out...), nil
}

// Train builds a sliding-window supervised set over the normalized series
// (input = w consecutive values, target = the next one) and runs plain
// stochastic gradient descent in fixed-size mini-batches. Progress is
// reported once per epoch. Returns the final epoch's mean squared loss.
func (e *Engine) Train(series []float64, opts TrainOptions) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.layers) == 0 {
		return 0, ErrNotConfigured
	}
	width := e.layers[0]
	if len(series) < width+1 {
		return 0, fmt.Errorf("%w: series of %d too short for input width %d", ErrInvalidInput, len(series), width)
	}

	maxEpochs := opts.MaxEpochs
	if maxEpochs <= 0 {
		maxEpochs = e.epochs
	}
	if maxEpochs <= 0 {
		maxEpochs = 1
	}
	batch := opts.MiniBatch
	if batch <= 0 {
		batch = defaultMiniBatch
	}

	norm := e.Normalize(series)
	samples := len(norm) - width
	finalLoss := 0.0
	for ep := 0; ep < maxEpochs; ep++ {
		sumSq := 0.0
		for start := 0; start < samples; start += batch {
			end := start + batch
			if end > samples {
				end = samples
			}
			for i := start; i < end; i++ {
				input := norm[i : i+width]
				target := norm[i+width]
				sumSq += e.step(input, target)
			}
		}
		finalLoss = sumSq / float64(samples)
		if opts.OnProgress != nil {
			opts.OnProgress(float64(ep+1) / float64(maxEpochs))
		}
	}
	return finalLoss, nil
}

// Accuracy derives a display accuracy in (0, 1] from a training loss.
// Monotone in the loss; 1 at zero loss.
func Accuracy(loss float64) float64 {
	if loss < 0 {
		loss = 0
	}
	return 1 / (1 + loss)
}

// step runs forward and a single-sample SGD update, returning the squared
// prediction error.
func (e *Engine) step(input []float64, target float64) float64 {
	acts, pre := e.forward(input)
	out := acts[len(acts)-1][0]
	err := out - target

	last := len(e.weights) - 1
	deltas := make([][]float64, len(e.weights))
	deltas[last] = []float64{err * reluPrime(pre[last][0])}
	for l := last - 1; l >= 0; l-- {
		deltas[l] = make([]float64, e.layers[l+1])
		for i := range deltas[l] {
			var sum float64
			for j, d := range deltas[l+1] {
				sum += e.weights[l+1][i][j] * d
			}
			deltas[l][i] = sum * reluPrime(pre[l][i])
		}
	}

	lr := e.learningRate
	for l := range e.weights {
		for i := range e.weights[l] {
			for j := range e.weights[l][i] {
				e.weights[l][i][j] -= lr * deltas[l][j] * acts[l][i]
			}
		}
		for j := range e.biases[l] {
			e.biases[l][j] -= lr * deltas[l][j]
		}
	}
	return err * err
}

// forward returns per-layer activations and pre-activation sums.
// acts[0] is the input; acts[len(layers)-1] the output.
func (e *Engine) forward(input []float64) (acts [][]float64, pre [][]float64) {
	acts = make([][]float64, len(e.layers))
	pre = make([][]float64, len(e.weights))
	acts[0] = input
	for l := 0; l < len(e.weights); l++ {
		next := make([]float64, e.layers[l+1])
		sums := make([]float64, e.layers[l+1])
		for j := 0; j < e.layers[l+1]; j++ {
			sum := e.biases[l][j]
			for i := 0; i < e.layers[l]; i++ {
				sum += acts[l][i] * e.weights[l][i][j]
			}
			sums[j] = sum
			next[j] = relu(sum)
		}
		pre[l] = sums
		acts[l+1] = next
	}
	return acts, pre
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func reluPrime(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func meanStddev(series []float64) (float64, float64) {
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))
	var sumSq float64
	for _, v := range series {
		d := v - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / float64(len(series)))
}
