package eventdispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the otel tracer used for event spans.
const tracerName = "sablo/eventdispatch"

// event is one queued unit of work.
type event struct {
	fn    func()
	level Level
}

// suspension tracks one parked event. The result channel is buffered so a
// resolve that races with the park never blocks and is never lost.
type suspension struct {
	id     any
	result chan outcome
}

type outcome struct {
	value any
	err   error
}

// Dispatcher executes queued events one at a time on a single goroutine.
// See the package documentation for the scheduling and suspend model.
type Dispatcher struct {
	mu          sync.Mutex
	queues      [numLevels]*queue.Queue
	suspensions map[any]*suspension
	closed      bool

	wake    chan struct{} // coalesced "queue is non-empty" signal
	done    chan struct{} // closed by Stop
	stopped chan struct{} // closed when the loop goroutine has exited

	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a Dispatcher and starts its loop goroutine.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		suspensions: make(map[any]*suspension),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
	for i := range d.queues {
		d.queues[i] = queue.New()
	}
	go d.run()
	return d
}

// AddEvent enqueues work for later execution and returns immediately. Safe
// to call from any goroutine, including from inside a running event.
func (d *Dispatcher) AddEvent(fn func(), level Level) {
	d.enqueue(fn, level)
}

// PostEvent enqueues work generated from inside an already-running event,
// to continue after the current event completes. The dispatcher never runs
// events inline, so the execute-after-current guarantee holds for AddEvent
// too; PostEvent records the intent at the call site.
func (d *Dispatcher) PostEvent(fn func(), level Level) {
	d.enqueue(fn, level)
}

func (d *Dispatcher) enqueue(fn func(), level Level) {
	if fn == nil {
		return
	}
	level = level.clamp()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug("event dropped, dispatcher stopped", "level", level)
		return
	}
	d.queues[level].Add(&event{fn: fn, level: level})
	d.mu.Unlock()

	recordEventQueued(level)
	d.signal()
}

// signal coalesces wake-ups; at most one waiter exists at any time because
// the whole dispatcher runs on a single goroutine.
func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// take pops the next runnable event at or above minLevel, or nil.
func (d *Dispatcher) take(minLevel Level) *event {
	d.mu.Lock()
	defer d.mu.Unlock()
	for l := numLevels - 1; l >= minLevel; l-- {
		if q := d.queues[l]; q.Length() > 0 {
			return q.Remove().(*event)
		}
	}
	return nil
}

// run is the dispatch loop. It exits when Stop closes done; queued events
// still unprocessed at that point are dropped.
func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			return
		default:
		}
		if ev := d.take(LevelDefault); ev != nil {
			d.execute(ev)
			continue
		}
		select {
		case <-d.wake:
		case <-d.done:
			return
		}
	}
}

// execute runs one event with panic recovery and an otel span. A panic is
// logged and never aborts the dispatch loop.
func (d *Dispatcher) execute(ev *event) {
	_, span := d.tracer.Start(context.Background(), "event.dispatch",
		trace.WithAttributes(attribute.String("event.level", ev.level.String())))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event panic",
				"panic", r,
				"level", ev.level,
				"stack", string(debug.Stack()))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			recordEventPanic()
		}
	}()

	recordEventDispatched(ev.level)
	ev.fn()
}

// Suspend parks the currently executing event until Resume or CancelSuspend
// is called with the same id, or until timeout elapses. It must only be
// called from inside a dispatched event.
//
// While parked, queued events whose level is at or above minLevel keep
// executing on this same goroutine, so the suspension never starves the
// session of its execution context. The parked call stack stays below the
// nested dispatch; an outer suspension therefore resumes only once the
// events dispatched during its wait have completed.
//
// The returned error is nil (value carries the resume result),
// ErrSuspendTimeout, ErrSuspendCancelled (wrapped with the cancel reason),
// or ErrDispatcherStopped.
func (d *Dispatcher) Suspend(id any, minLevel Level, timeout time.Duration) (any, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherStopped
	}
	if _, exists := d.suspensions[id]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrDuplicateSuspendID, id)
	}
	susp := &suspension{id: id, result: make(chan outcome, 1)}
	d.suspensions[id] = susp
	d.mu.Unlock()

	recordSuspend()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		// Drain runnable events first; the response we are waiting for is
		// itself delivered by one of them.
		if ev := d.take(minLevel); ev != nil {
			d.execute(ev)
			select {
			case out := <-susp.result:
				return out.value, out.err
			default:
			}
			continue
		}

		select {
		case out := <-susp.result:
			return out.value, out.err

		case <-timer.C:
			d.mu.Lock()
			_, still := d.suspensions[id]
			delete(d.suspensions, id)
			d.mu.Unlock()
			if !still {
				// Lost the race against a resolve; its outcome is already
				// buffered.
				out := <-susp.result
				return out.value, out.err
			}
			recordSuspendTimeout()
			return nil, ErrSuspendTimeout

		case <-d.wake:
			// New event queued; loop and take it.

		case <-d.done:
			d.mu.Lock()
			delete(d.suspensions, id)
			d.mu.Unlock()
			return nil, ErrDispatcherStopped
		}
	}
}

// resolve delivers an outcome for a parked id exactly once. Returns false
// when the id is not (or no longer) parked.
func (d *Dispatcher) resolve(id any, out outcome) bool {
	d.mu.Lock()
	susp, ok := d.suspensions[id]
	if ok {
		delete(d.suspensions, id)
		susp.result <- out
	}
	d.mu.Unlock()
	if ok {
		// The parked frame may be blocked in its select rather than between
		// events; nudge it.
		d.signal()
	}
	return ok
}

// Resume unparks the suspension registered under id, delivering value to
// the suspended caller. A second Resume (or a Resume after CancelSuspend or
// timeout) for the same id is a no-op returning false.
func (d *Dispatcher) Resume(id any, value any) bool {
	ok := d.resolve(id, outcome{value: value})
	if !ok {
		d.logger.Debug("resume for unknown suspend id discarded", "id", id)
	}
	return ok
}

// Fail unparks the suspension registered under id with an error, e.g. the
// browser reported a failure for the correlated call.
func (d *Dispatcher) Fail(id any, err error) bool {
	ok := d.resolve(id, outcome{err: err})
	if !ok {
		d.logger.Debug("fail for unknown suspend id discarded", "id", id, "error", err)
	}
	return ok
}

// CancelSuspend unparks the suspension registered under id with
// ErrSuspendCancelled wrapping reason, so the caller can tell "no answer
// will ever come" from a timeout's "no answer yet". A second cancel for the
// same id is a no-op returning false.
func (d *Dispatcher) CancelSuspend(id any, reason string) bool {
	ok := d.resolve(id, outcome{err: fmt.Errorf("%w: %s", ErrSuspendCancelled, reason)})
	if ok {
		recordSuspendCancel()
	} else {
		d.logger.Debug("cancel for unknown suspend id discarded", "id", id, "reason", reason)
	}
	return ok
}

// Stop shuts the dispatcher down. Parked suspensions unblock with
// ErrDispatcherStopped; queued events are dropped; subsequent AddEvent
// calls are no-ops. Stop is idempotent and safe to call from any goroutine,
// including from inside a running event.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.done)
}

// Stopped returns a channel that is closed once the dispatch loop has
// exited and all parked frames have unwound.
func (d *Dispatcher) Stopped() <-chan struct{} {
	return d.stopped
}

// QueueDepth returns the number of queued (not yet started) events across
// all levels.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += q.Length()
	}
	return n
}

// SuspendCount returns the number of currently parked suspensions.
func (d *Dispatcher) SuspendCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.suspensions)
}
