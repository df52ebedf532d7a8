package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

func TestRun_ProcessesInOrderAndDrains(t *testing.T) {
	var (
		mu         sync.Mutex
		deliveries []Delivery
	)
	a := &fakeAdapter{}
	s, _ := newTestSession(t, a, WithDeliveryHandler(func(_ context.Context, d Delivery) {
		mu.Lock()
		defer mu.Unlock()
		deliveries = append(deliveries, d)
	}))

	require.True(t, s.Enqueue(Event{Legacy: &LegacyMessage{ID: "m1", Kind: model.KindContact, From: "bob", Body: "1"}}))
	require.True(t, s.Enqueue(Event{Protocol: &ProtocolMessage{ID: "p1", Kind: model.KindContact, To: "bob", Body: "2"}}))
	require.True(t, s.Enqueue(Event{Legacy: &LegacyMessage{ID: "m2", Kind: model.KindContact, From: "bob", Body: "3"}}))
	assert.Equal(t, 3, s.Pending())
	s.Close()
	assert.False(t, s.Enqueue(Event{}), "closed sessions reject events")

	require.NoError(t, s.Run(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deliveries, 2)
	assert.Equal(t, []string{"gen-1"}, deliveries[0].ProtocolIDs)
	assert.Equal(t, []string{"gen-2"}, deliveries[1].ProtocolIDs)
	assert.Len(t, a.sent, 1)
	assert.Zero(t, s.Pending())
}

func TestRun_ContinuesAfterFailure(t *testing.T) {
	a := &fakeAdapter{}
	s, _ := newTestSession(t, a)

	s.Enqueue(Event{Protocol: &ProtocolMessage{ID: "p1", Kind: model.KindContact, To: "raw@key", Body: "bad key"}})
	s.Enqueue(Event{})
	s.Enqueue(Event{Protocol: &ProtocolMessage{ID: "p2", Kind: model.KindContact, To: "bob", Body: "ok"}})
	s.Close()

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, a.sent, 1)
	assert.Equal(t, "ok", a.sent[0].msg.Body)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _ := newTestSession(t, &fakeAdapter{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// An event processed while running, followed by idle time.
	s.Enqueue(Event{Legacy: &LegacyMessage{ID: "m1", Kind: model.KindContact, From: "bob", Body: "x"}})
	require.Eventually(t, func() bool { return s.Pending() == 0 }, 5*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
