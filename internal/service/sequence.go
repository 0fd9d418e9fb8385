package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"beverage_dispenser/internal/logger"
	"beverage_dispenser/internal/metrics"
	"beverage_dispenser/internal/models"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

// Step is one stage of the dispense sequence.
type Step string

const (
	StepDispenseCup Step = "dispense_cup"
	StepPour        Step = "pour"
	StepDeliver     Step = "deliver"
)

// stepInfo is how a step is reported when it fails.
type stepInfo struct {
	label     string
	code      string
	component string
	failure   string
}

var steps = map[Step]stepInfo{
	StepDispenseCup: {"Cup dispensing", "CUP_DISPENSE_FAILED", "cup_dispenser", "failed to dispense cup after multiple attempts"},
	StepPour:        {"Beverage pouring", "POUR_FAILED", "flow_controller", "failed to pour beverage after multiple attempts"},
	StepDeliver:     {"Cup delivery", "DELIVERY_FAILED", "cup_delivery", "beverage poured but not delivered"},
}

// SequenceConfig tunes the retry policy shared by all steps.
type SequenceConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

func (c SequenceConfig) withDefaults() SequenceConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// SequenceObserver is notified as the sequence moves through its steps.
type SequenceObserver interface {
	StepStarted(step Step)
	// StepCompleted is called once per successful step. pour is set only
	// for StepPour.
	StepCompleted(step Step, pour *PourResult)
}

// ErrorReporter receives step failures.
type ErrorReporter interface {
	HandleError(message, code, component string)
	LogError(message, component string)
}

type CupFeeder interface {
	Dispense(ctx context.Context) error
}

type Pourer interface {
	Pour(ctx context.Context, beverageKey string, volumeMl float64) (PourResult, error)
}

type Conveyor interface {
	Deliver(ctx context.Context) error
}

// SequenceManager runs cup dispense, pour and delivery in order, retrying
// each step independently.
type SequenceManager struct {
	feeder   CupFeeder
	pourer   Pourer
	conveyor Conveyor
	errs     ErrorReporter
	cfg      SequenceConfig
	log      *logger.Logger
}

func NewSequenceManager(feeder CupFeeder, pourer Pourer, conveyor Conveyor, errs ErrorReporter, cfg SequenceConfig, log *logger.Logger) *SequenceManager {
	return &SequenceManager{
		feeder:   feeder,
		pourer:   pourer,
		conveyor: conveyor,
		errs:     errs,
		cfg:      cfg.withDefaults(),
		log:      log.Component("sequence"),
	}
}

// ExecuteFullSequence runs the three steps. A step is attempted at most
// MaxRetries times; exhaustion is reported once to the ErrorReporter and
// aborts the sequence. obs may be nil.
func (m *SequenceManager) ExecuteFullSequence(ctx context.Context, volumeMl float64, beverageKey string, obs SequenceObserver) (models.DispenseResult, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	start := time.Now()
	res := models.DispenseResult{BeverageKey: beverageKey, RequestedMl: volumeMl}
	fail := func(step Step, err error) (models.DispenseResult, error) {
		res.Duration = time.Since(start)
		if errors.Is(err, ErrCancelled) {
			res.Error = "sequence cancelled"
		} else {
			res.Error = steps[step].failure
		}
		m.log.Warnw("sequence_failed", "step", step, "err", err)
		return res, err
	}

	m.log.Infow("sequence_started", "beverage", beverageKey, "volume_ml", volumeMl)

	if err := m.runStep(ctx, StepDispenseCup, obs, m.feeder.Dispense); err != nil {
		return fail(StepDispenseCup, err)
	}
	obs.StepCompleted(StepDispenseCup, nil)

	var pour PourResult
	err := m.runStep(ctx, StepPour, obs, func(ctx context.Context) error {
		r, err := m.pourer.Pour(ctx, beverageKey, volumeMl)
		pour = r
		return err
	})
	if err != nil {
		return fail(StepPour, err)
	}
	res.BeverageKey = pour.BeverageKey
	res.RequestedMl = pour.VolumeMl
	res.DispensedMl = pour.DispensedMl
	obs.StepCompleted(StepPour, &pour)

	if err := m.runStep(ctx, StepDeliver, obs, m.conveyor.Deliver); err != nil {
		return fail(StepDeliver, err)
	}
	obs.StepCompleted(StepDeliver, nil)

	res.Success = true
	res.Duration = time.Since(start)
	m.log.Infow("sequence_completed", "beverage", res.BeverageKey,
		"dispensed_ml", res.DispensedMl, "duration", res.Duration)
	return res, nil
}

func (m *SequenceManager) runStep(ctx context.Context, step Step, obs SequenceObserver, fn func(context.Context) error) error {
	info := steps[step]
	obs.StepStarted(step)

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			metrics.IncStepAttempt(string(step), metrics.ResultCancelled)
			return fmt.Errorf("%s: %w", info.label, ErrCancelled)
		}
		m.log.Debugw("step_attempt", "step", step, "attempt", attempt, "max_attempts", m.cfg.MaxRetries)

		err := fn(ctx)
		if err == nil {
			metrics.IncStepAttempt(string(step), metrics.ResultSuccess)
			return nil
		}
		if !IsRetryable(err) {
			if errors.Is(err, ErrCancelled) {
				metrics.IncStepAttempt(string(step), metrics.ResultCancelled)
			} else {
				metrics.IncStepAttempt(string(step), metrics.ResultFailure)
			}
			return err
		}
		metrics.IncStepAttempt(string(step), metrics.ResultFailure)
		lastErr = err

		if attempt < m.cfg.MaxRetries {
			m.errs.LogError(fmt.Sprintf("%s failed, retrying (attempt %d/%d): %v", info.label, attempt, m.cfg.MaxRetries, err), info.component)
			if err := sleepCtx(ctx, m.cfg.RetryDelay); err != nil {
				return fmt.Errorf("%s: %w", info.label, err)
			}
		}
	}

	msg := fmt.Sprintf("%s failed after %d attempts: retries exhausted (last error: %v)", info.label, m.cfg.MaxRetries, lastErr)
	m.errs.HandleError(msg, info.code, info.component)
	return fmt.Errorf("%s: %w: %w", info.label, ErrRetriesExhausted, lastErr)
}

type nopObserver struct{}

func (nopObserver) StepStarted(Step) {}
func (nopObserver) StepCompleted(Step, *PourResult) {}
