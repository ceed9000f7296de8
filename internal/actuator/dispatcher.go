package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/gatekeeper/internal/metrics"
)

const defaultQueueSize = 8

type DispatcherOptions struct {
	QueueSize int
	// Timeout is the deadline given to each Trigger call. 0 means none.
	Timeout time.Duration
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Dispatcher runs triggers on one background goroutine so callers never wait
// for the pulse and pulses never overlap.
type Dispatcher struct {
	next    Actuator
	timeout time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	queue chan struct{}
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(next Actuator, opts DispatcherOptions) *Dispatcher {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &Dispatcher{
		next:    next,
		timeout: opts.Timeout,
		log:     log,
		metrics: opts.Metrics,
		queue:   make(chan struct{}, size),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) Hardware() bool { return IsHardware(d.next) }

// Trigger queues one pulse and returns at once. It fails with ErrBusy when
// the queue is full and ErrClosed after Close.
func (d *Dispatcher) Trigger(_ context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

// Close runs any queued pulses, then stops the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for range d.queue {
		d.pulse()
	}
}

func (d *Dispatcher) pulse() {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := d.next.Trigger(ctx); err != nil {
		d.metrics.ActuationFailed()
		d.log.WithError(err).Error("gate actuation failed")
		return
	}
	d.metrics.ActuationSucceeded()
	d.log.WithField("took", time.Since(start)).Debug("gate actuation done")
}
