package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID:     UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		ChannelID: "socket-1",
		TS:        time.Unix(0, 0),
		Stage:     StageHarvestStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that reports the latest percentage per channel.
func ExampleSink() {
	latest := map[string]float64{}
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StagePageDone {
				latest[evt.ChannelID] = evt.Percent
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 4,
		MaxBatchWait:   time.Second,
	}, capture)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002"))
	for page := 1; page <= 2; page++ {
		hub.Emit(Event{
			RunID:      runID,
			ChannelID:  "socket-1",
			TS:         time.Unix(0, 0),
			Stage:      StagePageDone,
			Page:       page,
			TotalPages: 4,
			Percent:    Percent(page, 4),
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("socket-1: %.0f%%\n", latest["socket-1"])
	// Output:
	// socket-1: 50%
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
