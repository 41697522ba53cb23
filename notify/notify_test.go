package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestChannelSinkDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(4)
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, Event{Type: EventStepStarted, WorkflowID: "wf-1", Step: "intent_analysis"}))
	require.NoError(t, sink.Publish(ctx, Event{Type: EventStepCompleted, WorkflowID: "wf-1", Step: "intent_analysis"}))

	first := <-sink.Events()
	second := <-sink.Events()
	assert.Equal(t, EventStepStarted, first.Type)
	assert.Equal(t, EventStepCompleted, second.Type)
	assert.Zero(t, sink.Dropped())
}

func TestChannelSinkDropsOnFullBuffer(t *testing.T) {
	sink := NewChannelSink(1)
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, Event{Type: EventStepStarted}))
	require.NoError(t, sink.Publish(ctx, Event{Type: EventStepCompleted}))

	assert.Equal(t, int64(1), sink.Dropped())
	assert.Len(t, sink.Events(), 1)
}

func TestLogSinkNeverFails(t *testing.T) {
	sink := NewLogSink(zaptest.NewLogger(t))
	require.NoError(t, sink.Publish(context.Background(), Event{
		Type:       EventWorkflowFinished,
		WorkflowID: "wf-1",
		At:         time.Now(),
	}))
}

func TestMultiSinkFansOut(t *testing.T) {
	a := NewChannelSink(2)
	b := NewChannelSink(2)
	sink := NewMultiSink(a, b)

	require.NoError(t, sink.Publish(context.Background(), Event{Type: EventUnitCompleted, UnitID: "s1-c1"}))

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestRedisSinkPublishesJSON(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(context.Background(), "coursecraft:events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	sink, err := NewRedisSink(client, "")
	require.NoError(t, err)

	require.NoError(t, sink.Publish(context.Background(), Event{
		Type:       EventWorkflowSuspended,
		WorkflowID: "wf-9",
		Step:       "human_review",
		At:         time.Now().UTC(),
	}))

	msg, err := sub.ReceiveMessage(context.Background())
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, EventWorkflowSuspended, got.Type)
	assert.Equal(t, "wf-9", got.WorkflowID)
	assert.Equal(t, "human_review", got.Step)
}
