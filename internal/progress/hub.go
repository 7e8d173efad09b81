package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the event queue (default 1024).
//   - MaxBatchEvents: deliver once this many events are pending (default 256).
//   - MaxBatchWait: deliver this long after the first pending event (default 200ms).
//   - SinkTimeout: per-sink deadline for each delivery (default 10s).
//   - BaseContext: parent context for sink calls (default context.Background()).
//   - Logger: optional structured logger.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 200 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub queues events from any number of goroutines and delivers them in
// batches to its sinks. Emit never blocks; a terminal event (HARVEST_DONE or
// HARVEST_ERROR) forces an immediate delivery.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped  atomic.Int64
	dropLog  throttle
	closing  atomic.Bool
	stopOnce sync.Once
	stopCtx  context.Context
}

// NewHub starts a Hub delivering to sinks. It is ready for Emit on return.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		queue:   make(chan Event, cfg.BufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  cfg.Logger.Named("progress"),
		dropLog: throttle{interval: dropLogInterval},
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events are discarded; when the queue is full the
// event is dropped and a throttled warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		h.dropped.Add(1)
		if h.dropLog.Allow(time.Now()) {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.dropped.Swap(0)))
		}
	}
}

// Close stops accepting events, delivers whatever is queued, closes the sinks
// and waits for the delivery goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closing.Store(true)
		h.stopCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var deadline <-chan time.Time
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.MaxBatchEvents || evt.Stage.Terminal():
				pending = h.deliver(pending)
				deadline = nil
			case deadline == nil:
				deadline = time.After(h.cfg.MaxBatchWait)
			}
		case <-deadline:
			deadline = nil
			pending = h.deliver(pending)
		case <-h.quit:
			h.drain(pending)
			return
		}
	}
}

func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.deliver(pending)
			}
		default:
			h.deliver(pending)
			h.closeSinks()
			return
		}
	}
}

// deliver hands a copy of batch to every sink and returns batch truncated
// for reuse.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.stopCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// throttle admits at most one caller per interval.
type throttle struct {
	interval time.Duration
	last     atomic.Int64
}

func (t *throttle) Allow(now time.Time) bool {
	if t == nil || t.interval <= 0 {
		return true
	}
	prev := t.last.Load()
	if now.UnixNano()-prev < t.interval.Nanoseconds() {
		return false
	}
	return t.last.CompareAndSwap(prev, now.UnixNano())
}
