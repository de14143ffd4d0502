package notifier

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProblemEvent(id string) Event {
	return Event{Type: EventNewProblem, Problem: json.RawMessage(`{"id":"` + id + `"}`)}
}

func receive(t *testing.T, c *Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "connection closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNothing(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if ok {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	c := h.Connect("w1")

	h.Subscribe(c, "Plumber")
	h.Subscribe(c, "Plumber")
	h.Subscribe(c, " Plumber ")

	assert.Equal(t, 1, h.Subscribers("Plumber"))
	assert.Equal(t, []string{"Plumber"}, h.Channels(c))

	assert.Equal(t, 1, h.Broadcast("Plumber", newProblemEvent("p1")))
	receive(t, c)
	assertNothing(t, c)
}

func TestUnsubscribeAbsentIsNoop(t *testing.T) {
	h := NewHub()
	c := h.Connect("w1")

	h.Unsubscribe(c, "Plumber")
	h.Subscribe(c, "Plumber")
	h.Unsubscribe(c, "Plumber")
	h.Unsubscribe(c, "Plumber")

	assert.Equal(t, 0, h.Subscribers("Plumber"))
	assert.Empty(t, h.Channels(c))
}

func TestBroadcastOnlyReachesChannel(t *testing.T) {
	h := NewHub()
	plumber := h.Connect("w1")
	electrician := h.Connect("w2")
	h.Subscribe(plumber, "Plumber")
	h.Subscribe(electrician, "Electrician")

	n := h.Broadcast("Plumber", newProblemEvent("p1"))

	assert.Equal(t, 1, n)
	ev := receive(t, plumber)
	assert.Equal(t, EventNewProblem, ev.Type)
	assert.Equal(t, "Plumber", ev.Category)
	assert.JSONEq(t, `{"id":"p1"}`, string(ev.Problem))
	assertNothing(t, electrician)
}

func TestSubscriberSeesOnlyEventsWhileSubscribed(t *testing.T) {
	h := NewHub()
	c := h.Connect("w1")

	h.Broadcast("Plumber", newProblemEvent("before"))
	h.Subscribe(c, "Plumber")
	h.Broadcast("Plumber", newProblemEvent("during"))
	h.Unsubscribe(c, "Plumber")
	h.Broadcast("Plumber", newProblemEvent("after"))

	ev := receive(t, c)
	assert.JSONEq(t, `{"id":"during"}`, string(ev.Problem))
	assertNothing(t, c)
}

func TestMultipleChannelsPerConnection(t *testing.T) {
	h := NewHub()
	c := h.Connect("w1")
	h.Subscribe(c, "Plumber")
	h.Subscribe(c, "Electrician")

	h.Broadcast("Plumber", newProblemEvent("p1"))
	h.Broadcast("Electrician", newProblemEvent("e1"))

	assert.Equal(t, "Plumber", receive(t, c).Category)
	assert.Equal(t, "Electrician", receive(t, c).Category)
}

func TestDisconnectRemovesFromAllChannels(t *testing.T) {
	h := NewHub()
	c := h.Connect("w1")
	h.Subscribe(c, "Plumber")
	h.Subscribe(c, "Electrician")

	h.Disconnect(c)
	h.Disconnect(c)

	assert.Equal(t, 0, h.Subscribers("Plumber"))
	assert.Equal(t, 0, h.Subscribers("Electrician"))
	assert.Equal(t, 0, h.Broadcast("Plumber", newProblemEvent("p1")))
	_, ok := h.Conn(c.ID())
	assert.False(t, ok)

	_, open := <-c.Events()
	assert.False(t, open)
	<-c.Done()

	// subscribing a closed connection does nothing
	h.Subscribe(c, "Plumber")
	assert.Equal(t, 0, h.Subscribers("Plumber"))
}

func TestBroadcastDoesNotBlockOnSlowConsumer(t *testing.T) {
	h := NewHub(WithBuffer(1), WithMaxMissed(0))
	slow := h.Connect("slow")
	fast := h.Connect("fast")
	h.Subscribe(slow, "Plumber")
	h.Subscribe(fast, "Plumber")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			h.Broadcast("Plumber", newProblemEvent("p"))
			<-fast.Events()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full queue")
	}
	receive(t, slow)
	assertNothing(t, slow)
}

func TestUnresponsiveConnectionIsEvicted(t *testing.T) {
	h := NewHub(WithBuffer(1), WithMaxMissed(2))
	c := h.Connect("w1")
	h.Subscribe(c, "Plumber")

	h.Broadcast("Plumber", newProblemEvent("1"))
	h.Broadcast("Plumber", newProblemEvent("2"))
	h.Broadcast("Plumber", newProblemEvent("3"))

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection was not evicted")
	}
	assert.Equal(t, 0, h.Subscribers("Plumber"))
}

func TestBroadcastOrderIsConsistent(t *testing.T) {
	h := NewHub(WithBuffer(256))
	a := h.Connect("a")
	b := h.Connect("b")
	h.Subscribe(a, "Plumber")
	h.Subscribe(b, "Plumber")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				h.Broadcast("Plumber", newProblemEvent(string(rune('a'+i))))
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 80; i++ {
		assert.Equal(t, string(receive(t, a).Problem), string(receive(t, b).Problem))
	}
}

func TestSyncReplacesChannels(t *testing.T) {
	h := NewHub()
	c := h.Connect("w1")
	h.Subscribe(c, "Plumber")
	h.Subscribe(c, "Painter")

	h.Sync(c, []string{"Electrician", "Plumber", ""})

	assert.Equal(t, []string{"Electrician", "Plumber"}, h.Channels(c))
	assert.Equal(t, 0, h.Subscribers("Painter"))
}

func TestConnsOf(t *testing.T) {
	h := NewHub()
	a1 := h.Connect("a")
	a2 := h.Connect("a")
	h.Connect("b")

	got := h.ConnsOf("a")
	assert.ElementsMatch(t, []*Conn{a1, a2}, got)

	h.Close()
	assert.Empty(t, h.ConnsOf("a"))
	assert.Empty(t, h.ConnsOf("b"))
}
