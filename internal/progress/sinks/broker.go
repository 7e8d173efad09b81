package sinks

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/progress"
)

const defaultSubscriberBuffer = 64

// Broker fans events out to in-process subscribers keyed by channel id. The
// HTTP layer uses it to serve progress streams. Slow subscribers lose events
// rather than stalling the hub.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[chan progress.Event]struct{}
	buffer int
	closed bool
	logger *zap.Logger
}

// NewBroker returns a Broker whose subscriber channels hold buffer events.
func NewBroker(buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:   make(map[string]map[chan progress.Event]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers interest in channelID. The returned cancel func must be
// called once the caller stops reading; it closes the channel.
func (b *Broker) Subscribe(channelID string) (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	set := b.subs[channelID]
	if set == nil {
		set = make(map[chan progress.Event]struct{})
		b.subs[channelID] = set
	}
	set[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(channelID, ch) })
	}
}

func (b *Broker) unsubscribe(channelID string, ch chan progress.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[channelID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, channelID)
	}
}

// Subscribers reports the number of live subscriptions for channelID.
func (b *Broker) Subscribers(channelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channelID])
}

// Consume delivers each event to the subscribers of its channel.
func (b *Broker) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range batch {
		for ch := range b.subs[evt.ChannelID] {
			select {
			case ch <- evt:
			default:
				b.logger.Debug("progress subscriber full, dropping event",
					zap.String("channel_id", evt.ChannelID),
					zap.String("stage", string(evt.Stage)))
			}
		}
	}
	return nil
}

// Close ends every subscription.
func (b *Broker) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channelID, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, channelID)
	}
	return nil
}
