package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal    *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	epochLoss     prometheus.Gauge
	epochDuration prometheus.Histogram
	epochsTotal   prometheus.Counter
	predictions   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	streamState   *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticklab_ticks_total",
				Help: "Total number of ticks received from the stream",
			},
			[]string{"market"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ticklab_last_price",
				Help: "Last recorded price for a market",
			},
			[]string{"market"},
		),
		epochLoss: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ticklab_epoch_loss",
				Help: "Training loss of the most recent epoch",
			},
		),
		epochDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ticklab_epoch_duration_seconds",
				Help:    "Wall time spent processing one epoch",
				Buckets: prometheus.DefBuckets,
			},
		),
		epochsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ticklab_epochs_total",
				Help: "Total number of persisted epochs",
			},
		),
		predictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticklab_predictions_total",
				Help: "Total settled predictions by outcome",
			},
			[]string{"outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticklab_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		streamState: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticklab_stream_state_changes_total",
				Help: "Connection state transitions of the tick stream",
			},
			[]string{"state"},
		),
	}
}

// RecordTick records one received tick and its price.
func (r *Recorder) RecordTick(market string, price float64) {
	r.ticksTotal.WithLabelValues(market).Inc()
	r.lastPrice.WithLabelValues(market).Set(price)
}

// RecordEpoch records a completed epoch's loss and duration.
func (r *Recorder) RecordEpoch(loss, seconds float64) {
	r.epochsTotal.Inc()
	r.epochLoss.Set(loss)
	r.epochDuration.Observe(seconds)
}

// RecordPrediction records a settled prediction outcome.
func (r *Recorder) RecordPrediction(outcome string) {
	r.predictions.WithLabelValues(outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordStateChange records a stream connection state transition.
func (r *Recorder) RecordStateChange(state string) {
	r.streamState.WithLabelValues(state).Inc()
}
