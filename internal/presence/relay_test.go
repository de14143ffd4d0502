package presence

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezywork/internal/notifier"
	"ezywork/internal/testutil"
)

// instance wires one server's hub, relay and presence service over a
// shared database and NATS server.
func instance(t *testing.T, svc *Service, nc *nats.Conn) *Service {
	t.Helper()
	relay := notifier.NewRelay(nc, "test.problems", svc.Hub, nil)
	relay.OnPresence(func(workerID string) {
		_, _ = svc.Resync(context.Background(), workerID)
	})
	require.NoError(t, relay.Start())
	t.Cleanup(func() { _ = relay.Close() })
	svc.Peers = relay
	return svc
}

func TestPresenceChangeReachesOtherInstances(t *testing.T) {
	ns := testutil.StartNATS(t)
	gdb := testutil.NewDB(t)
	require.NoError(t, Migrate(gdb))
	ctx := context.Background()

	a := instance(t, &Service{DB: gdb, Hub: notifier.NewHub()}, testutil.ConnectNATS(t, ns))
	b := instance(t, &Service{DB: gdb, Hub: notifier.NewHub()}, testutil.ConnectNATS(t, ns))

	onB := b.Hub.Connect("w1")
	require.NoError(t, b.Attach(ctx, onB))
	require.Empty(t, b.Hub.Channels(onB))

	_, err := a.Set(ctx, "w1", true, []string{"Plumber"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"Plumber"}, b.Hub.Channels(onB))
	}, 2*time.Second, 10*time.Millisecond)

	_, err = a.UpdateSkills(ctx, "w1", []string{"Painter"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"Painter"}, b.Hub.Channels(onB))
	}, 2*time.Second, 10*time.Millisecond)

	_, err = a.Set(ctx, "w1", false, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(b.Hub.Channels(onB)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, b.Hub.Broadcast("Painter", ping("Painter")))
	assert.Empty(t, received(onB))
}
