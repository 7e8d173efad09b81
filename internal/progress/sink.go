package progress

import "context"

// Sink consumes batches of progress events. Implementations must tolerate
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. The orchestrator only sees this, so
// it stays unaware of buffering and delivery.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) {
	f(evt)
}

// Discard is an Emitter that drops everything.
var Discard Emitter = EmitterFunc(func(Event) {})
