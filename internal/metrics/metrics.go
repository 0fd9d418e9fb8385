package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "dispenser_"

	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultCancelled = "cancelled"
)

var (
	registerOnce sync.Once

	sequencesTotal   *prometheus.CounterVec
	sequenceDuration *prometheus.HistogramVec
	stepAttempts     *prometheus.CounterVec
	pouredVolume     *prometheus.CounterVec
	slowPours        prometheus.Counter
	errorsTotal      *prometheus.CounterVec
	systemState      *prometheus.GaugeVec
	platformWeight   prometheus.Gauge
)

// Init registers the dispenser collectors with the default registry.
func Init() {
	registerOnce.Do(func() {
		sequencesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sequences_total",
				Help: "Total dispense sequences by result",
			},
			[]string{"result"},
		)
		sequenceDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sequence_duration_seconds",
				Help:    "Dispense sequence duration in seconds",
				Buckets: []float64{5, 10, 15, 20, 30, 45, 60, 90},
			},
			[]string{"result"},
		)
		stepAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "step_attempts_total",
				Help: "Sequence step attempts by step and result",
			},
			[]string{"step", "result"},
		)
		pouredVolume = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poured_volume_ml_total",
				Help: "Measured poured volume in millilitres by beverage",
			},
			[]string{"beverage"},
		)
		slowPours = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "slow_pour_activations_total",
				Help: "Pours that switched to the slow regime",
			},
		)
		errorsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "errors_total",
				Help: "Processed error records by component",
			},
			[]string{"component"},
		)
		systemState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "system_state",
				Help: "1 for the current system state, 0 otherwise",
			},
			[]string{"state"},
		)
		platformWeight = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "platform_weight_grams",
				Help: "Last weight read from the cup platform",
			},
		)

		prometheus.MustRegister(
			sequencesTotal,
			sequenceDuration,
			stepAttempts,
			pouredVolume,
			slowPours,
			errorsTotal,
			systemState,
			platformWeight,
		)
	})
}

// ObserveSequence records a finished dispense sequence.
func ObserveSequence(result string, duration time.Duration) {
	if result == "" {
		result = ResultFailure
	}
	if sequencesTotal != nil {
		sequencesTotal.WithLabelValues(result).Inc()
	}
	if sequenceDuration != nil {
		sequenceDuration.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncStepAttempt records one attempt of a sequence step.
func IncStepAttempt(step, result string) {
	if stepAttempts != nil {
		stepAttempts.WithLabelValues(step, result).Inc()
	}
}

// AddPouredVolume adds measured volume for a beverage.
func AddPouredVolume(beverage string, ml float64) {
	if pouredVolume != nil && ml > 0 {
		pouredVolume.WithLabelValues(beverage).Add(ml)
	}
}

// IncSlowPour records a slow-pour activation.
func IncSlowPour() {
	if slowPours != nil {
		slowPours.Inc()
	}
}

// IncError records a processed error record.
func IncError(component string) {
	if component == "" {
		component = "unknown"
	}
	if errorsTotal != nil {
		errorsTotal.WithLabelValues(component).Inc()
	}
}

// SetState moves the state gauge from prev to next.
func SetState(prev, next string) {
	if systemState == nil {
		return
	}
	if prev != "" && prev != next {
		systemState.WithLabelValues(prev).Set(0)
	}
	systemState.WithLabelValues(next).Set(1)
}

// SetWeight records the last platform weight.
func SetWeight(grams float64) {
	if platformWeight != nil {
		platformWeight.Set(grams)
	}
}
