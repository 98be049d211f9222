package subtitle

import (
	"sync"

	"github.com/rs/zerolog"
)

// Dispatcher delivers callbacks on a single dedicated goroutine, in the order
// they were posted. Posting never blocks the caller.
type Dispatcher struct {
	mu           sync.Mutex
	queue        []func()
	closed       bool
	updateSignal chan struct{}
	done         chan struct{}
	logger       zerolog.Logger
}

// NewDispatcher starts the delivery goroutine
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		updateSignal: make(chan struct{}, 1),
		done:         make(chan struct{}),
		logger:       logger,
	}
	go d.run()
	return d
}

// Post enqueues fn for delivery. Returns false once the dispatcher is closed.
func (d *Dispatcher) Post(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.signalUpdate()
	return true
}

// Close stops accepting callbacks, delivers what is already queued and waits
// for the delivery goroutine to exit. Must not be called from a callback.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signalUpdate()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()
			d.deliver(fn)
			continue
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		<-d.updateSignal
	}
}

func (d *Dispatcher) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("Subtitle callback panicked")
		}
	}()
	fn()
}

func (d *Dispatcher) signalUpdate() {
	select {
	case d.updateSignal <- struct{}{}:
	default:
	}
}
