package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMarshalRoundtrip(t *testing.T) {
	e := New(TypeDecisionMade, "s1", map[string]any{"action": "continue"})
	payload, err := e.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeDecisionMade, decoded.Type)
	assert.Equal(t, "s1", decoded.SessionID)
	assert.Equal(t, "continue", decoded.Data["action"])
}

func TestTopicIsPerSession(t *testing.T) {
	assert.Equal(t, "discussion:abc", Topic("abc"))
	assert.NotEqual(t, Topic("a"), Topic("b"))
}

func TestInMemoryBus_PublishSubscribeRoundtrip(t *testing.T) {
	bus := NewInMemoryBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, New(TypeTurnCompleted, "s1", map[string]any{"turn_id": "t1"})))

	select {
	case e := <-ch:
		assert.Equal(t, TypeTurnCompleted, e.Type)
		assert.Equal(t, "t1", e.Data["turn_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestInMemoryBus_SessionsAreIsolated(t *testing.T) {
	bus := NewInMemoryBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chA, err := bus.Subscribe(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, New(TypeMonitorUpdate, "b", nil)))
	require.NoError(t, bus.Publish(ctx, New(TypeMonitorUpdate, "a", nil)))

	select {
	case e := <-chA:
		assert.Equal(t, "a", e.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case e, ok := <-chA:
		if ok {
			t.Fatalf("unexpected cross-session event: %+v", e)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInMemoryBus_SlowSubscriberNeverBlocksProducer(t *testing.T) {
	bus := NewInMemoryBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "s1")
	require.NoError(t, err)

	// Publish far more events than the subscription buffers without
	// consuming any; publishing must complete promptly regardless.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*4; i++ {
			_ = bus.Publish(ctx, New(TypeMonitorUpdate, "s1", map[string]any{"i": i}))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// Whatever is buffered is still valid, decodable traffic.
	drained := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
			drained++
			if drained > subscriptionBuffer*4 {
				t.Fatalf("drained more events than published: %d", drained)
			}
		case <-time.After(200 * time.Millisecond):
			assert.Positive(t, drained)
			return
		}
	}
}

func TestBus_RequiresTransport(t *testing.T) {
	_, err := NewBus(nil, nil)
	require.Error(t, err)

	var nilBus *Bus
	require.Error(t, nilBus.Publish(context.Background(), Event{}))
	require.NoError(t, nilBus.Close())
}
