package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"beverage_dispenser/internal/models"
)

type fakeErrorSink struct {
	mu   sync.Mutex
	recs []models.ErrorRecord
	err  error
}

func (s *fakeErrorSink) RecordError(ctx context.Context, rec models.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return s.err
}

func (s *fakeErrorSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func TestErrorHandler_HistoryIsCappedFIFO(t *testing.T) {
	const limit = 100
	h := NewErrorHandler(limit, nil, nopLog())
	defer h.Stop()

	for i := 0; i < limit+50; i++ {
		h.HandleError(fmt.Sprintf("error %d", i), "TEST", "test")
	}

	hist := h.GetErrorHistory()
	if len(hist) != limit {
		t.Fatalf("history length = %d, want %d", len(hist), limit)
	}
	if hist[0].Message != "error 50" || hist[limit-1].Message != "error 149" {
		t.Fatalf("history spans %q..%q, want error 50..error 149", hist[0].Message, hist[limit-1].Message)
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Timestamp.Before(hist[i-1].Timestamp) {
			t.Fatalf("history out of order at %d", i)
		}
	}
}

func TestErrorHandler_ProcessesAndForwardsRecords(t *testing.T) {
	sink := &fakeErrorSink{}
	h := NewErrorHandler(10, sink, nopLog())
	defer h.Stop()

	h.HandleError("Cup dispensing failed after 3 attempts: retries exhausted", "CUP_DISPENSE_FAILED", "cup_dispenser")
	h.HandleError("Cup delivery failed after 3 attempts: retries exhausted", "DELIVERY_FAILED", "cup_delivery")

	waitFor(t, time.Second, "records processed", func() bool {
		for _, r := range h.GetErrorHistory() {
			if !r.Processed {
				return false
			}
		}
		return true
	})
	if sink.count() != 2 {
		t.Fatalf("sink received %d records, want 2", sink.count())
	}
	hist := h.GetErrorHistory()
	if hist[0].ID == "" || hist[0].ID == hist[1].ID {
		t.Fatalf("records need distinct ids: %q %q", hist[0].ID, hist[1].ID)
	}
	if hist[1].Code != "DELIVERY_FAILED" || hist[1].Component != "cup_delivery" {
		t.Fatalf("unexpected record: %+v", hist[1])
	}
}

func TestErrorHandler_SinkFailureDoesNotStopWorker(t *testing.T) {
	sink := &fakeErrorSink{err: errors.New("disk full")}
	h := NewErrorHandler(10, sink, nopLog())
	defer h.Stop()

	for i := 0; i < 3; i++ {
		h.HandleError("boom", "X", "test")
	}
	waitFor(t, time.Second, "all records forwarded", func() bool { return sink.count() == 3 })
}

func TestErrorHandler_StopDrainsQueue(t *testing.T) {
	sink := &fakeErrorSink{}
	h := NewErrorHandler(10, sink, nopLog())

	for i := 0; i < 5; i++ {
		h.HandleError(fmt.Sprintf("e%d", i), "X", "test")
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sink.count() != 5 {
		t.Fatalf("sink received %d records after Stop, want 5", sink.count())
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestErrorHandler_GetErrorHistoryReturnsCopy(t *testing.T) {
	h := NewErrorHandler(10, nil, nopLog())
	defer h.Stop()

	h.HandleError("original", "X", "test")
	hist := h.GetErrorHistory()
	hist[0].Message = "changed"

	if got := h.GetErrorHistory()[0].Message; got != "original" {
		t.Fatalf("history mutated through copy: %q", got)
	}
}

func TestErrorHandler_LogErrorDoesNotRecord(t *testing.T) {
	h := NewErrorHandler(10, nil, nopLog())
	defer h.Stop()

	h.LogError("Cup dispensing failed, retrying (attempt 1/3)", "cup_dispenser")
	if n := len(h.GetErrorHistory()); n != 0 {
		t.Fatalf("history length = %d, want 0", n)
	}
}
