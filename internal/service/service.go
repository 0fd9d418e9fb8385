package service

import (
	"context"
	"time"

	"beverage_dispenser/internal/hardware"
	"beverage_dispenser/internal/logger"
	"beverage_dispenser/internal/models"
	"beverage_dispenser/internal/repository"
)

// Controller is the operator surface of the dispensing station.
type Controller interface {
	InitializeSystem(ctx context.Context) error
	Dispense(volumeMl float64, beverageKey string) error
	StopOperation() error
	EnterMaintenanceMode() error
	ExitMaintenanceMode() error
	MoveConveyor(ctx context.Context, speed float64, d time.Duration) error
	ResetSystem() error
	ResetStats() error
	CheckpointStats(ctx context.Context) error
	GetSystemState() models.SystemStatus
	GetErrorHistory() []models.ErrorRecord
	Beverages() []models.BeverageProfile
	Shutdown(ctx context.Context) error
}

// EventLog exposes the telemetry history.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.Event, error)
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Hardware bundles the I/O of every station unit.
type Hardware struct {
	Flow     hardware.FlowHardware
	Feeder   hardware.FeederHardware
	Conveyor hardware.ConveyorHardware
	Monitor  hardware.MonitorHardware
}

// Config carries the tuning of every component.
type Config struct {
	Flow       FlowConfig
	Cup        CupDispenserConfig
	Delivery   DeliveryConfig
	Sequence   SequenceConfig
	MaxErrors  int
	Controller ControllerConfig
}

// Service aggregates the station controller and its event log.
type Service struct {
	Controller
	EventLog
}

// NewService wires the repository layer and the hardware into the station
// components.
func NewService(repos *repository.Repository, hw Hardware, profiles ProfileRegistry, cfg Config, log *logger.Logger) *Service {
	events := NewEventLogService(repos.EventRepo)
	errs := NewErrorHandler(cfg.MaxErrors, events, log)

	flow := NewFlowController(hw.Flow, profiles, cfg.Flow, log)
	cups := NewCupDispenser(hw.Feeder, cfg.Cup, log)
	delivery := NewCupDelivery(hw.Conveyor, cfg.Delivery, log)

	ctrl := NewMainController(Components{
		Flow:     flow,
		Cups:     cups,
		Delivery: delivery,
		Monitor:  NewSystemMonitor(hw.Monitor, log),
		Errors:   errs,
		Sequence: NewSequenceManager(cups, flow, delivery, errs, cfg.Sequence, log),
	}, profiles, events, repos.StatsRepo, cfg.Controller, log)

	return &Service{
		Controller: ctrl,
		EventLog:   events,
	}
}
