// Package events fans epoch records out to publishers and history stores
// without blocking the training loop.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cartridge/summarizer/internal/types"
)

// Sink receives epoch records on the dispatcher goroutine.
type Sink interface {
	Deliver(ctx context.Context, record types.EpochRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, record types.EpochRecord) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, record types.EpochRecord) error {
	return f(ctx, record)
}

// PublisherSink delivers epoch records through a Publisher.
func PublisherSink(p Publisher) Sink {
	return SinkFunc(p.PublishEpoch)
}

// Dispatcher queues epoch records and delivers them to every sink in order
// on a single background goroutine. A full queue drops the record.
type Dispatcher struct {
	queue  chan types.EpochRecord
	sinks  []Sink
	logger zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped int
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with room for buffer pending records.
func NewDispatcher(buffer int, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		queue:  make(chan types.EpochRecord, buffer),
		sinks:  sinks,
		logger: logger,
	}
}

// Start begins delivering queued records. Sinks receive ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for record := range d.queue {
			for _, sink := range d.sinks {
				if err := sink.Deliver(ctx, record); err != nil {
					d.logger.Warn().
						Err(err).
						Str("run_id", record.RunID).
						Int("epoch", record.Epoch).
						Msg("Failed to deliver epoch record")
				}
			}
		}
	}()
}

// Notify enqueues a record without blocking. It reports false when the
// record was dropped.
func (d *Dispatcher) Notify(record types.EpochRecord) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- record:
		return true
	default:
		d.dropped++
		d.logger.Warn().
			Str("run_id", record.RunID).
			Int("epoch", record.Epoch).
			Msg("Epoch record queue full, dropping record")
		return false
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropped
}

// Close stops accepting records and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
