package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezywork/internal/testutil"
)

func TestRelayFansOutAcrossInstances(t *testing.T) {
	ns := testutil.StartNATS(t)
	const subject = "test.problems"

	hubA, hubB := NewHub(), NewHub()
	relayA := NewRelay(testutil.ConnectNATS(t, ns), subject, hubA, nil)
	relayB := NewRelay(testutil.ConnectNATS(t, ns), subject, hubB, nil)
	require.NoError(t, relayA.Start())
	require.NoError(t, relayB.Start())
	t.Cleanup(func() {
		_ = relayA.Close()
		_ = relayB.Close()
	})

	onA := hubA.Connect("w1")
	onB := hubB.Connect("w2")
	other := hubB.Connect("w3")
	hubA.Subscribe(onA, "Plumber")
	hubB.Subscribe(onB, "Plumber")
	hubB.Subscribe(other, "Electrician")

	require.NoError(t, relayA.Publish(context.Background(), "Plumber", newProblemEvent("p1")))

	evA := receive(t, onA)
	evB := receive(t, onB)
	assert.Equal(t, "Plumber", evA.Category)
	assert.JSONEq(t, `{"id":"p1"}`, string(evB.Problem))
	assertNothing(t, other)
}

func TestRelayPreservesPublishOrder(t *testing.T) {
	ns := testutil.StartNATS(t)
	hub := NewHub(WithBuffer(128))
	relay := NewRelay(testutil.ConnectNATS(t, ns), "test.order", hub, nil)
	require.NoError(t, relay.Start())
	t.Cleanup(func() { _ = relay.Close() })

	c := hub.Connect("w1")
	hub.Subscribe(c, "Plumber")

	ids := []string{"1", "2", "3", "4", "5"}
	for _, id := range ids {
		require.NoError(t, relay.Publish(context.Background(), "Plumber", newProblemEvent(id)))
	}
	for _, id := range ids {
		assert.JSONEq(t, `{"id":"`+id+`"}`, string(receive(t, c).Problem))
	}
}

func TestRelayIgnoresMalformedMessages(t *testing.T) {
	ns := testutil.StartNATS(t)
	hub := NewHub()
	nc := testutil.ConnectNATS(t, ns)
	relay := NewRelay(nc, "test.bad", hub, nil)
	require.NoError(t, relay.Start())
	t.Cleanup(func() { _ = relay.Close() })

	c := hub.Connect("w1")
	hub.Subscribe(c, "Plumber")

	require.NoError(t, nc.Publish("test.bad", []byte("not json")))
	require.NoError(t, relay.Publish(context.Background(), "Plumber", newProblemEvent("ok")))

	assert.JSONEq(t, `{"id":"ok"}`, string(receive(t, c).Problem))
}

func TestRelayDeliversPresenceAnnouncements(t *testing.T) {
	ns := testutil.StartNATS(t)
	const subject = "test.problems"

	seen := make(chan string, 4)
	relayA := NewRelay(testutil.ConnectNATS(t, ns), subject, NewHub(), nil)
	relayB := NewRelay(testutil.ConnectNATS(t, ns), subject, NewHub(), nil)
	relayB.OnPresence(func(workerID string) { seen <- workerID })
	require.NoError(t, relayA.Start())
	require.NoError(t, relayB.Start())
	t.Cleanup(func() {
		_ = relayA.Close()
		_ = relayB.Close()
	})

	require.NoError(t, relayA.AnnouncePresence(context.Background(), "w1"))

	select {
	case got := <-seen:
		assert.Equal(t, "w1", got)
	case <-time.After(2 * time.Second):
		t.Fatal("presence announcement not delivered")
	}
}
