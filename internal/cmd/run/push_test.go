package run

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chirino/notification-cache/internal/flight"
	"github.com/chirino/notification-cache/internal/service"
	"github.com/chirino/notification-cache/internal/testutil/testnats"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

type countingTrigger struct {
	gate  *flight.Gate
	calls atomic.Int32
	opts  atomic.Value
}

func (c *countingTrigger) Trigger(ctx context.Context, opts service.CleanupOptions) *flight.Flight {
	c.calls.Add(1)
	c.opts.Store(opts)
	_, f := c.gate.Do(ctx, opts.Force, func(context.Context) {})
	return f
}

func TestPushSubject(t *testing.T) {
	require.Equal(t, "notification-cache.push.received", PushSubject("notification-cache"))
	require.Equal(t, "app.push.received", PushSubject("app."))
	require.Equal(t, "push.received", PushSubject(""))
}

func TestPushTriggersPlainCleanup(t *testing.T) {
	trig := &countingTrigger{gate: flight.New("cleanup", time.Hour)}
	onPushReceived(context.Background(), trig, "notification-cache.push.received")
	onPushReceived(context.Background(), trig, "notification-cache.push.received")

	require.EqualValues(t, 2, trig.calls.Load())
	require.Equal(t, service.CleanupOptions{}, trig.opts.Load())
}

func TestPushSubscriptionAgainstNATSServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	url := testnats.StartNATS(t)
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	trig := &countingTrigger{gate: flight.New("cleanup", time.Hour)}
	subject := PushSubject("it")
	sub, err := subscribePush(context.Background(), conn, subject, trig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, conn.Flush())

	require.NoError(t, conn.Publish(subject, []byte(`{"notificationId":"n1"}`)))
	require.NoError(t, conn.Flush())
	require.Eventually(t, func() bool { return trig.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
}
