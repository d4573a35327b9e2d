package network

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func newTestEngine(t *testing.T, layers []int, lr float64) *Engine {
	t.Helper()
	e := New(rand.New(rand.NewSource(42)))
	if err := e.Configure(layers, lr, 1); err != nil {
		t.Fatalf("configure: %v", err)
	}
	return e
}

func TestNormalizeZeroMeanUnitStddev(t *testing.T) {
	e := New(rand.New(rand.NewSource(1)))
	series := []float64{3, 7, 1, 9, 4, 6, 2, 8}
	norm := e.Normalize(series)

	var sum float64
	for _, v := range norm {
		sum += v
	}
	mean := sum / float64(len(norm))
	if math.Abs(mean) > 1e-9 {
		t.Fatalf("expected zero mean, got %v", mean)
	}
	var sumSq float64
	for _, v := range norm {
		sumSq += (v - mean) * (v - mean)
	}
	sigma := math.Sqrt(sumSq / float64(len(norm)))
	if math.Abs(sigma-1) > 1e-9 {
		t.Fatalf("expected unit stddev, got %v", sigma)
	}
}

func TestNormalizeConstantSeries(t *testing.T) {
	e := New(rand.New(rand.NewSource(1)))
	norm := e.Normalize([]float64{5, 5, 5, 5})
	for i, v := range norm {
		if v != 0 {
			t.Fatalf("expected all zeros, got %v at %d", v, i)
		}
	}
}

func TestPredictRejectsWrongWidth(t *testing.T) {
	e := newTestEngine(t, []int{5, 4, 1}, 0.01)
	if _, err := e.Predict([]float64{1, 2, 3}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPredictOutputShape(t *testing.T) {
	e := newTestEngine(t, []int{5, 8, 1}, 0.01)
	out, err := e.Predict([]float64{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
}

func TestConfigureRejectsWideOutputLayer(t *testing.T) {
	e := New(rand.New(rand.NewSource(1)))
	if err := e.Configure([]int{4, 6, 2}, 0.01, 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 2-wide output, got %v", err)
	}
	// Never half-configured: engine still reports unconfigured.
	if _, err := e.Predict([]float64{1, 2, 3, 4}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured after rejected topology, got %v", err)
	}
}

func TestImportRejectsWideOutputLayer(t *testing.T) {
	e := New(rand.New(rand.NewSource(1)))
	blob := []byte(`{"layers":[2,2],"weights":[[[0,0],[0,0]]],"biases":[[0,0]],"learning_rate":0.01}`)
	if err := e.Import(blob); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 2-wide output blob, got %v", err)
	}
}

func TestTrainRejectsShortSeries(t *testing.T) {
	e := newTestEngine(t, []int{10, 8, 1}, 0.01)
	if _, err := e.Train([]float64{1, 2, 3}, TrainOptions{MaxEpochs: 1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTrainReportsProgressPerEpoch(t *testing.T) {
	e := newTestEngine(t, []int{5, 6, 1}, 0.005)
	series := make([]float64, 40)
	for i := range series {
		series[i] = float64(i) + 0.5*math.Sin(float64(i))
	}
	var fractions []float64
	_, err := e.Train(series, TrainOptions{
		MaxEpochs:  4,
		OnProgress: func(f float64) { fractions = append(fractions, f) },
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(fractions) != 4 {
		t.Fatalf("expected 4 progress reports, got %d", len(fractions))
	}
	if fractions[len(fractions)-1] != 1 {
		t.Fatalf("expected final fraction 1, got %v", fractions[len(fractions)-1])
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] <= fractions[i-1] {
			t.Fatalf("progress not increasing: %v", fractions)
		}
	}
}

func TestTrainReturnsFiniteLoss(t *testing.T) {
	e := newTestEngine(t, []int{5, 6, 1}, 0.005)
	series := make([]float64, 60)
	for i := range series {
		series[i] = 100 + float64(i)*0.25
	}
	loss, err := e.Train(series, TrainOptions{MaxEpochs: 3})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) || loss < 0 {
		t.Fatalf("unexpected loss %v", loss)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	e := newTestEngine(t, []int{4, 5, 1}, 0.01)
	series := make([]float64, 30)
	for i := range series {
		series[i] = float64(i * i % 17)
	}
	if _, err := e.Train(series, TrainOptions{MaxEpochs: 2}); err != nil {
		t.Fatalf("train: %v", err)
	}
	blob, err := e.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	input := []float64{1, 2, 3, 4}
	want, err := e.Predict(input)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	restored := New(rand.New(rand.NewSource(99)))
	if err := restored.Import(blob); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, err := restored.Predict(input)
	if err != nil {
		t.Fatalf("predict after import: %v", err)
	}
	if len(got) != len(want) || math.Abs(got[0]-want[0]) > 1e-12 {
		t.Fatalf("prediction changed after round trip: %v vs %v", got, want)
	}
}

func TestImportRejectsMalformedBlob(t *testing.T) {
	e := New(rand.New(rand.NewSource(1)))
	if err := e.Import([]byte(`{"layers":[3]}`)); err == nil {
		t.Fatalf("expected error for malformed blob")
	}
}

func TestAccuracy(t *testing.T) {
	if got := Accuracy(0); got != 1 {
		t.Fatalf("expected 1 at zero loss, got %v", got)
	}
	if a, b := Accuracy(0.5), Accuracy(2); a <= b {
		t.Fatalf("accuracy not monotone: %v <= %v", a, b)
	}
}
