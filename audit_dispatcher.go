package authcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// auditDispatcher fans events out to the wired sinks from a single
// delivery goroutine so authentication flows never wait on sink latency.
// The queue is bounded; in drop mode a saturated queue counts the event
// instead of stalling the caller.
//
// The dispatcher runs whenever at least one sink is wired. Login-attempt
// recording is part of the login protocol, so wiring an attempt store is
// enough to turn delivery on; AuditConfig.Enabled only matters when no
// sink exists at all.
type auditDispatcher struct {
	sinks   []AuditSink
	queue   chan AuditEvent
	quit    chan struct{}
	idle    chan struct{}
	block   bool
	dropped atomic.Uint64
	closing atomic.Bool
	once    sync.Once
}

// newAuditDispatcher starts delivery for the given sinks. Nil sinks are
// skipped; with none left and auditing not forced on it returns nil, and
// every method of a nil dispatcher is a no-op.
func newAuditDispatcher(cfg AuditConfig, sinks ...AuditSink) *auditDispatcher {
	kept := make([]AuditSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		if !cfg.Enabled {
			return nil
		}
		kept = append(kept, NoOpSink{})
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}

	d := &auditDispatcher{
		sinks: kept,
		queue: make(chan AuditEvent, size),
		quit:  make(chan struct{}),
		idle:  make(chan struct{}),
		block: !cfg.DropIfFull,
	}
	go d.deliver()
	return d
}

func (d *auditDispatcher) deliver() {
	defer close(d.idle)

	for {
		select {
		case event := <-d.queue:
			d.fanOut(event)
		case <-d.quit:
			d.drain()
			return
		}
	}
}

// drain flushes events buffered before Close. Emit stops accepting once
// closing is set, so the queue only shrinks here.
func (d *auditDispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.fanOut(event)
		default:
			return
		}
	}
}

func (d *auditDispatcher) fanOut(event AuditEvent) {
	for _, sink := range d.sinks {
		sink.Emit(context.Background(), event)
	}
}

// Emit queues an event for delivery. Events without a timestamp are
// stamped here so sinks always see one.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closing.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !d.block {
		select {
		case d.queue <- event:
		case <-d.quit:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.quit:
	}
}

// Close stops intake, flushes the buffered backlog and waits for the
// delivery goroutine to exit. Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.quit)
		<-d.idle
	})
}

// Dropped reports how many events were discarded on a full queue.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
