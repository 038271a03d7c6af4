// Package audit records scan and handler events in an append-only trail.
//
// Writes are asynchronous and best effort: a failed insert is logged and
// counted, never returned to the caller.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"asset-indexer/internal/logging"
	"asset-indexer/internal/metrics"
)

// Event names written by the indexer and the audit handler.
const (
	EventFound   = "founded"
	EventUpdated = "updated"
	EventLost    = "losted"
	EventHandled = "handled"
)

// ObjectFile is the object type of events about catalogued files.
const ObjectFile = "file"

// Event is one audit row.
type Event struct {
	ID              string
	CreatedAt       time.Time
	Issuer          string
	Event           string
	Realm           string
	ObjectType      string
	ObjectReference string
	ObjectPayload   string
	ScanID          string
}

// Sink persists audit events.
type Sink interface {
	InsertAuditEvents(ctx context.Context, events []Event) error
}

const (
	defaultBuffer = 1024
	flushSize     = 200
	flushInterval = time.Second
)

// Writer buffers events and flushes them to a Sink from one goroutine.
type Writer struct {
	sink   Sink
	issuer string
	events chan Event
	done   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// NewWriter starts a writer flushing to sink. issuer tags every event.
func NewWriter(sink Sink, issuer string) *Writer {
	w := &Writer{
		sink:   sink,
		issuer: issuer,
		events: make(chan Event, defaultBuffer),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go w.run()
	return w
}

// NewScanID returns an identifier grouping the events of one scan run.
func NewScanID() string {
	return uuid.NewString()
}

// Record queues an event. When the buffer is full the event is dropped.
func (w *Writer) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = w.now()
	}
	if e.Issuer == "" {
		e.Issuer = w.issuer
	}
	if e.ObjectType == "" {
		e.ObjectType = ObjectFile
	}

	select {
	case w.events <- e:
	default:
		metrics.AuditEventsTotal.WithLabelValues("dropped").Inc()
		logging.Warn("audit buffer full, dropping %s event for %s", e.Event, e.ObjectReference)
	}
}

// Close flushes pending events and stops the writer.
func (w *Writer) Close() {
	w.once.Do(func() {
		close(w.events)
		<-w.done
	})
}

func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, flushSize)
	for {
		select {
		case e, ok := <-w.events:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= flushSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *Writer) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.sink.InsertAuditEvents(ctx, batch); err != nil {
		metrics.AuditEventsTotal.WithLabelValues("error").Add(float64(len(batch)))
		logging.Error("failed to write %d audit events: %v", len(batch), err)
		return
	}
	metrics.AuditEventsTotal.WithLabelValues("written").Add(float64(len(batch)))
}
