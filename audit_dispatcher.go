package goVerify

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples the issue/verify/resend flows from sink I/O. Flow
// methods enqueue and return; a single consumer goroutine forwards events to
// the configured AuditSink. With DropIfFull set, a full queue sheds the event
// and counts the loss, so a slow sink can never stall code delivery or
// verification.
type auditDispatcher struct {
	config    AuditConfig
	sink      AuditSink
	queue     chan AuditEvent
	quit      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		config: cfg,
		sink:   sink,
		queue:  make(chan AuditEvent, cfg.BufferSize),
		quit:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case <-d.quit:
			d.drain()
			return
		}
	}
}

// drain flushes events already queued at shutdown. Verification outcomes that
// made it into the queue reach the sink even when Close races the flows.
func (d *auditDispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit enqueues one event. Never blocks when DropIfFull is set; otherwise it
// waits for queue space, ctx cancellation, or dispatcher shutdown. Safe to
// call after Close, where it is a no-op.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.config.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.quit:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.quit:
	}
}

// Close stops the consumer after draining queued events. Idempotent.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.quit)
		d.wg.Wait()
	})
}

// Dropped reports how many events were shed because the queue was full while
// DropIfFull was set.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
