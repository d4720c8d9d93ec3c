package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mahdimonir/professionals-bd-sub001/internal/goroutine"
	"github.com/mahdimonir/professionals-bd-sub001/internal/logger"
	"github.com/mahdimonir/professionals-bd-sub001/internal/metrics"
)

const deliverTimeout = 5 * time.Second

// Options задаёт параметры диспетчера.
type Options struct {
	QueueSize  int
	RatePerSec float64
}

// Dispatcher складывает уведомления в очередь и раздаёт их по каналам.
type Dispatcher struct {
	queue   chan Message
	sinks   []Sink
	limiter *rate.Limiter
	wg      sync.WaitGroup
	once    sync.Once
	closed  chan struct{}
}

// NewDispatcher создаёт диспетчер. Запуск - через Start.
func NewDispatcher(opts Options, sinks ...Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
		burst = int(opts.RatePerSec) + 1
	}
	return &Dispatcher{
		queue:   make(chan Message, opts.QueueSize),
		sinks:   sinks,
		limiter: rate.NewLimiter(limit, burst),
		closed:  make(chan struct{}),
	}
}

// Notify ставит уведомление в очередь. При переполнении оно отбрасывается.
func (d *Dispatcher) Notify(_ context.Context, msg Message) {
	select {
	case <-d.closed:
		return
	default:
	}

	select {
	case d.queue <- msg:
	default:
		metrics.IncNotificationDropped(string(msg.Kind))
		logger.Log.WithFields(logrus.Fields{
			"kind":    msg.Kind,
			"user_id": msg.UserID,
		}).Warn("events: очередь уведомлений переполнена, сообщение отброшено")
	}
}

// Start запускает обработчик очереди.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	goroutine.SafeGo(func() {
		defer d.wg.Done()
		d.loop(ctx)
	})
}

// Stop перестаёт принимать сообщения, дожидается доставки очереди.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.closed)
	})
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		select {
		case msg := <-d.queue:
			d.dispatch(ctx, msg)
		case <-d.closed:
			d.drain(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case msg := <-d.queue:
			d.dispatch(ctx, msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	for _, sink := range d.sinks {
		d.deliver(ctx, sink, msg)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncNotificationFailure(sink.Name())
			logger.Log.WithFields(logrus.Fields{"sink": sink.Name(), "panic": r}).Error("events: паника при доставке")
		}
	}()

	deliverCtx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	if err := sink.Deliver(deliverCtx, msg); err != nil {
		metrics.IncNotificationFailure(sink.Name())
		logger.Log.WithFields(logrus.Fields{
			"sink":    sink.Name(),
			"kind":    msg.Kind,
			"user_id": msg.UserID,
			"error":   err,
		}).Warn("events: не удалось доставить уведомление")
	}
}

// SinkFunc позволяет использовать функцию как канал доставки.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, msg Message) error
}

func (s SinkFunc) Name() string { return s.SinkName }

func (s SinkFunc) Deliver(ctx context.Context, msg Message) error { return s.Fn(ctx, msg) }
