package game

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventSink consumes engine events. A failing sink never affects the engine.
type EventSink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

const sinkTimeout = 5 * time.Second

// Dispatcher delivers events to every sink in the order they were committed.
// Publish blocks when the queue is full so no event is dropped.
type Dispatcher struct {
	queue  chan Event
	sinks  []EventSink
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(logger zerolog.Logger, buffer int, sinks ...EventSink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Dispatcher{
		queue:  make(chan Event, buffer),
		sinks:  sinks,
		logger: logger.With().Str("component", "dispatcher").Logger(),
		done:   make(chan struct{}),
	}
}

func (d *Dispatcher) Publish(events ...Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Int("events", len(events)).Msg("dispatcher closed, dropping events")
		return
	}
	for _, ev := range events {
		d.queue <- ev
	}
}

// Run delivers until Close drains the queue.
func (d *Dispatcher) Run() {
	defer close(d.done)
	for ev := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := sink.Handle(ctx, ev); err != nil {
				d.logger.Error().
					Err(err).
					Str("sink", sink.Name()).
					Str("event", string(ev.Type)).
					Uint64("seq", ev.Seq).
					Msg("sink failed")
			}
			cancel()
		}
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}
