package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"beverage_dispenser/internal/logger"
	"beverage_dispenser/internal/metrics"
	"beverage_dispenser/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultMaxErrors = 100

	errorQueueSize         = 64
	errorWorkerJoinTimeout = 2 * time.Second
	errorSinkTimeout       = 2 * time.Second
)

// ErrorSink persists processed error records.
type ErrorSink interface {
	RecordError(ctx context.Context, rec models.ErrorRecord) error
}

// ErrorHandler keeps a bounded error history and processes records on a
// background worker so callers never block.
type ErrorHandler struct {
	log  *logger.Logger
	sink ErrorSink
	max  int

	mu      sync.Mutex // guards history
	history []models.ErrorRecord

	queue    chan models.ErrorRecord
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewErrorHandler starts the processing worker. sink may be nil.
func NewErrorHandler(maxErrors int, sink ErrorSink, log *logger.Logger) *ErrorHandler {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	h := &ErrorHandler{
		log:   log.Component("error_handler"),
		sink:  sink,
		max:   maxErrors,
		queue: make(chan models.ErrorRecord, errorQueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go h.worker()
	return h
}

// HandleError records a failure and queues it for processing.
func (h *ErrorHandler) HandleError(message, code, component string) {
	rec := models.ErrorRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Message:   message,
		Code:      code,
		Component: component,
	}
	h.log.Errorw("error_reported", "code", code, "source", component, "message", message)

	h.mu.Lock()
	h.history = append(h.history, rec)
	if over := len(h.history) - h.max; over > 0 {
		h.history = append(h.history[:0:0], h.history[over:]...)
	}
	h.mu.Unlock()

	select {
	case h.queue <- rec:
	default:
		h.log.Warnw("error_queue_full", "id", rec.ID)
	}
}

// LogError writes a message to the log without recording it.
func (h *ErrorHandler) LogError(message, component string) {
	h.log.Warnw(message, "source", component)
}

// GetErrorHistory returns a copy of the history, oldest first.
func (h *ErrorHandler) GetErrorHistory() []models.ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.ErrorRecord, len(h.history))
	copy(out, h.history)
	return out
}

// Stop drains queued records and waits for the worker to exit.
func (h *ErrorHandler) Stop() error {
	h.stopOnce.Do(func() { close(h.stop) })
	select {
	case <-h.done:
		return nil
	case <-time.After(errorWorkerJoinTimeout):
		return fmt.Errorf("error handler: worker did not stop within %s", errorWorkerJoinTimeout)
	}
}

func (h *ErrorHandler) worker() {
	defer close(h.done)
	for {
		select {
		case rec := <-h.queue:
			h.process(rec)
		case <-h.stop:
			for {
				select {
				case rec := <-h.queue:
					h.process(rec)
				default:
					return
				}
			}
		}
	}
}

func (h *ErrorHandler) process(rec models.ErrorRecord) {
	rec.Processed = true
	h.mu.Lock()
	for i := range h.history {
		if h.history[i].ID == rec.ID {
			h.history[i].Processed = true
			break
		}
	}
	h.mu.Unlock()

	metrics.IncError(rec.Component)
	if h.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), errorSinkTimeout)
	defer cancel()
	if err := h.sink.RecordError(ctx, rec); err != nil {
		h.log.Warnw("error_persist_failed", "id", rec.ID, "err", err)
	}
}
