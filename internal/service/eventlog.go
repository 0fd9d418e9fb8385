package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"beverage_dispenser/internal/models"
	"beverage_dispenser/internal/repository"
)

// EventLogService is the telemetry log: it records station events and
// serves filtered history.
type EventLogService struct {
	eventRepo repository.EventRepo
}

func NewEventLogService(eventRepo repository.EventRepo) *EventLogService {
	return &EventLogService{eventRepo: eventRepo}
}

var (
	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")
)

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType trims spaces and uppercases the event type filter.
func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeAndValidateFilter prepares query parameters and validates the time range.
func normalizeAndValidateFilter(f LogFilter) (time.Time, time.Time, string, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, "", errInvalidTimeRange
	}

	eventType := normalizeEventType(f.Type)
	return from, to, eventType, nil
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.Event, error) {
	from, to, typ, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, from, to, typ)
}

// Record appends an event to the log.
func (s *EventLogService) Record(ctx context.Context, e models.Event) error {
	e.Type = normalizeEventType(e.Type)
	return s.eventRepo.Append(ctx, e)
}

// RecordError stores a processed error record as an ERROR event.
func (s *EventLogService) RecordError(ctx context.Context, rec models.ErrorRecord) error {
	return s.eventRepo.Append(ctx, models.Event{
		EventID:     rec.ID,
		OccurredAt:  rec.Timestamp,
		Type:        models.EventError,
		Description: rec.Message,
		Metadata: map[string]any{
			"code":      rec.Code,
			"component": rec.Component,
		},
	})
}

// Prune deletes events older than retention and returns how many went.
func (s *EventLogService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return s.eventRepo.DeleteBefore(ctx, time.Now().UTC().Add(-retention))
}
