package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultInterval is the minimum time between deliveries.
	DefaultInterval = 500 * time.Millisecond
	// DefaultDeliveryTimeout bounds a single Notify call.
	DefaultDeliveryTimeout = 3 * time.Second
	// DefaultCloseGrace is how long Close waits for the final delivery.
	DefaultCloseGrace = time.Second
)

// Sink receives formatted progress text, e.g. by editing a chat message.
type Sink interface {
	Notify(ctx context.Context, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) Notify(ctx context.Context, text string) error { return f(ctx, text) }

// Emitter delivers events to a Sink from a single worker goroutine. Bursts
// collapse to the most recent event and deliveries are at least the interval
// apart. A nil *Emitter discards everything.
type Emitter struct {
	ctx      context.Context
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	grace    time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending *Event
	closed  bool

	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithDeliveryTimeout bounds each Notify call. d <= 0 keeps the default.
func WithDeliveryTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithCloseGrace bounds how long Close waits for the worker. d <= 0 keeps
// the default.
func WithCloseGrace(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d > 0 {
			e.grace = d
		}
	}
}

// NewEmitter starts an emitter. ctx values reach the sink but its
// cancellation does not; each delivery gets its own timeout. The emitter
// stops only on Close. An interval <= 0 disables debouncing.
func NewEmitter(ctx context.Context, sink Sink, interval time.Duration, logger *zap.Logger, opts ...EmitterOption) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		ctx:      context.WithoutCancel(ctx),
		sink:     sink,
		interval: interval,
		timeout:  DefaultDeliveryTimeout,
		grace:    DefaultCloseGrace,
		logger:   logger.Named("progress"),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

// Emit queues an event, replacing any event not yet delivered.
func (e *Emitter) Emit(kind Kind, action, detail string) {
	if e == nil {
		return
	}
	ev := Event{Kind: kind, Action: action, Context: detail, Timestamp: time.Now()}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.pending = &ev
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Close delivers the last pending event, without waiting out the interval,
// and stops the worker. A sink still blocked after the close grace is
// abandoned; the worker exits whenever that Notify returns. It is safe to
// call more than once.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		close(e.done)
		timer := time.NewTimer(e.grace)
		defer timer.Stop()
		select {
		case <-e.stopped:
		case <-timer.C:
			e.logger.Warn("progress sink still busy, abandoning delivery", zap.Duration("grace", e.grace))
		}
	})
}

func (e *Emitter) run() {
	defer close(e.stopped)

	var last time.Time
	for {
		select {
		case <-e.wake:
		case <-e.done:
			e.flush()
			return
		}

		if wait := e.interval - time.Since(last); !last.IsZero() && wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-e.done:
				timer.Stop()
				e.flush()
				return
			}
		}

		if ev, ok := e.take(); ok {
			e.deliver(ev)
			last = time.Now()
		}
	}
}

func (e *Emitter) take() (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return Event{}, false
	}
	ev := *e.pending
	e.pending = nil
	return ev, true
}

func (e *Emitter) flush() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	if ev, ok := e.take(); ok {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev Event) {
	if e.sink == nil {
		return
	}
	text := Format(ev)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("progress sink panicked", zap.Any("panic", r), zap.String("text", text))
		}
	}()

	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()
	if err := e.sink.Notify(ctx, text); err != nil {
		e.logger.Warn("progress delivery failed", zap.Error(err), zap.String("text", text))
		return
	}
	e.logger.Debug("progress delivered", zap.String("kind", string(ev.Kind)), zap.String("text", text))
}

type emitterCtxKey struct{}

// WithEmitter stores e in ctx for components deeper in the turn.
func WithEmitter(ctx context.Context, e *Emitter) context.Context {
	return context.WithValue(ctx, emitterCtxKey{}, e)
}

// FromContext returns the turn's emitter, or nil. Emit on nil is a no-op.
func FromContext(ctx context.Context) *Emitter {
	e, _ := ctx.Value(emitterCtxKey{}).(*Emitter)
	return e
}
