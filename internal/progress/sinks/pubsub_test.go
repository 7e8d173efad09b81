package sinks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/listing-harvester/internal/progress"
)

func TestPubSubSinkPublishesOrderedMessages(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "harvest-progress")
	require.NoError(t, err)

	sink := NewPubSubSink(topic, nil)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, ChannelID: "sock-1", Stage: progress.StagePageDone, Page: 1, TotalPages: 2, Percent: 50, TS: now},
		{RunID: runID, ChannelID: "sock-1", Stage: progress.StagePageDone, Page: 2, TotalPages: 2, Percent: 100, TS: now},
	}
	require.NoError(t, sink.Consume(ctx, batch))
	require.NoError(t, sink.Close(ctx))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	for i, msg := range msgs {
		require.Equal(t, "sock-1", msg.Attributes["channel_id"])
		require.Equal(t, string(progress.StagePageDone), msg.Attributes["stage"])
		require.Equal(t, "sock-1", msg.OrderingKey)

		var payload progress.Payload
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		require.Equal(t, batch[i].Percent, payload.Progress)
		require.Equal(t, "sock-1", payload.ChannelID)
	}
}
