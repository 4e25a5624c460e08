// Package audit delivers audit events to their sinks without ever blocking
// or failing the operation that produced them.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/observability"
)

// sinkTimeout bounds a single sink write.
const sinkTimeout = 5 * time.Second

// Sink stores or forwards audit events.
type Sink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event domain.AuditEvent) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, event domain.AuditEvent) error { return f(ctx, event) }

// Recorder queues events and fans them out to subscribed sinks on a
// background goroutine. Sink failures are logged and swallowed.
type Recorder struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	sinksMu sync.RWMutex
	sinks   []Sink

	mu     sync.RWMutex
	closed bool
	queue  chan domain.AuditEvent
	done   chan struct{}
	start  sync.Once
}

// NewRecorder builds a Recorder with the given queue capacity.
func NewRecorder(logger *zap.Logger, metrics *observability.Metrics, bufferSize int) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Recorder{
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		queue:   make(chan domain.AuditEvent, bufferSize),
		done:    make(chan struct{}),
	}
}

// Subscribe registers a sink for all subsequent deliveries.
func (r *Recorder) Subscribe(sink Sink) {
	r.sinksMu.Lock()
	defer r.sinksMu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Start launches the delivery goroutine. Calling it more than once is a no-op.
func (r *Recorder) Start() {
	r.start.Do(func() { go r.run() })
}

// Record enqueues event without blocking. When the queue is full or the
// recorder is closed the event is dropped and counted.
func (r *Recorder) Record(event domain.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(event, "recorder closed")
		return
	}
	select {
	case r.queue <- event:
	default:
		r.drop(event, "queue full")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.Start()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		r.deliver(event)
	}
}

func (r *Recorder) deliver(event domain.AuditEvent) {
	r.sinksMu.RLock()
	sinks := append([]Sink{}, r.sinks...)
	r.sinksMu.RUnlock()

	for _, sink := range sinks {
		if err := r.safeRecord(sink, event); err != nil {
			r.logger.Error("audit sink failed",
				zap.String("event_id", event.ID),
				zap.String("action", string(event.Action)),
				zap.Error(err))
		}
	}
}

func (r *Recorder) safeRecord(sink Sink, event domain.AuditEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panicked: %v", p)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	return sink.Record(ctx, event)
}

func (r *Recorder) drop(event domain.AuditEvent, why string) {
	r.metrics.RecordAuditDrop()
	r.logger.Warn("audit event dropped",
		zap.String("reason", why),
		zap.String("event_id", event.ID),
		zap.String("action", string(event.Action)))
}
