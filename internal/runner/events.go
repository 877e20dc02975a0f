package runner

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/herdctl/herd/internal/protocol"
)

// Emitter carries events from the scheduler loop to the control-plane
// server. It provides a simple, thread-safe way to emit events to the
// broadcast path without ever blocking the loop.
type Emitter struct {
	events       chan protocol.Message
	droppedCount atomic.Uint64
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{
		events: make(chan protocol.Message, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *Emitter) Emit(msg protocol.Message) {
	select {
	case e.events <- msg:
		return
	default:
	}

	// Give the consumer a short chance to drain before dropping.
	select {
	case e.events <- msg:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[runner] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, msg.Kind())
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events for the broadcast consumer.
func (e *Emitter) Events() <-chan protocol.Message {
	return e.events
}

// Close closes the events channel. Called once every producer (the loop
// and the supervisor's output sink) has stopped; Emit after Close panics.
func (e *Emitter) Close() {
	close(e.events)
}
