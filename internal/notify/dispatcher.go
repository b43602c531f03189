package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kiranshivaraju/peoplehub/internal/metrics"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notification dispatcher closed")
)

// Dispatcher decouples event delivery from the caller. Publish never blocks:
// when the queue is full the event is dropped.
type Dispatcher struct {
	sink        Sink
	queue       chan models.LifecycleEvent
	workers     int
	sendTimeout time.Duration
	log         *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

func NewDispatcher(sink Sink, cfg DispatcherConfig, log *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sink:        sink,
		queue:       make(chan models.LifecycleEvent, cfg.QueueSize),
		workers:     cfg.Workers,
		sendTimeout: cfg.SendTimeout,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers. It is a no-op on a started dispatcher.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Publish enqueues ev. The caller's context only bounds the enqueue, never
// the delivery.
func (d *Dispatcher) Publish(_ context.Context, ev models.LifecycleEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- ev:
		metrics.NotifyQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		d.log.Warn("notification dropped, queue full",
			zap.String("tenant_id", ev.TenantID.String()),
			zap.String("event", string(ev.Kind)),
		)
		return ErrQueueFull
	}
}

// Close stops intake and waits for queued events to drain. Deliveries still
// running when ctx ends are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		metrics.NotifyQueueDepth.Set(float64(len(d.queue)))
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev models.LifecycleEvent) {
	ctx, cancel := context.WithTimeout(d.ctx, d.sendTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			d.log.Error("notification sink panicked",
				zap.String("sink", d.sink.Name()),
				zap.String("tenant_id", ev.TenantID.String()),
				zap.Any("panic", rec),
			)
		}
	}()

	if err := d.sink.Send(ctx, ev); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		d.log.Warn("notification delivery failed",
			zap.String("sink", d.sink.Name()),
			zap.String("tenant_id", ev.TenantID.String()),
			zap.String("event", string(ev.Kind)),
			zap.Error(err),
		)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
}
