package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops routine events when the buffer is full instead of
	// waiting. Critical events always wait, bounded by the caller's context.
	DropIfFull bool
}

// Stats counts what a Dispatcher did with the events handed to it.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	// CriticalWaits counts critical events that found the buffer full and
	// had to wait for room.
	CriticalWaits uint64
	// CriticalLost counts critical events abandoned because the caller's
	// context ended or the dispatcher closed while waiting.
	CriticalLost uint64
}

// Dispatcher forwards audit events to a sink from a single goroutine, so
// sinks see events in the order they were accepted.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stop       chan struct{}
	dropIfFull bool

	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	delivered     atomic.Uint64
	dropped       atomic.Uint64
	criticalWaits atomic.Uint64
	criticalLost  atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when cfg disables
// auditing. A nil Dispatcher accepts and discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, cfg.BufferSize),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}

	d.wg.Add(1)
	go d.loop()

	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain delivers whatever was accepted before Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

// Emit queues event for delivery. Routine events are dropped on a full buffer
// when DropIfFull is set; critical events never are.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case d.queue <- event:
		return
	case <-d.stop:
		d.lose(event)
		return
	default:
	}

	if d.dropIfFull && !event.Critical {
		d.dropped.Add(1)
		return
	}
	if event.Critical {
		d.criticalWaits.Add(1)
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.lose(event)
	case <-d.stop:
		d.lose(event)
	}
}

func (d *Dispatcher) lose(event Event) {
	if event.Critical {
		d.criticalLost.Add(1)
		return
	}
	if d.dropIfFull {
		d.dropped.Add(1)
	}
}

// Close stops accepting events and returns once every accepted event has
// reached the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Stats returns the dispatcher's counters. A nil Dispatcher reports zeros.
func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Delivered:     d.delivered.Load(),
		Dropped:       d.dropped.Load(),
		CriticalWaits: d.criticalWaits.Load(),
		CriticalLost:  d.criticalLost.Load(),
	}
}
