package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/notification-cache/internal/config"
	registryplatform "github.com/chirino/notification-cache/internal/registry/platform"
	"github.com/chirino/notification-cache/internal/testutil/testnats"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads []string
	replies  map[string]string
	err      error
}

func (f *fakeConn) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, string(data))
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.replies[subj]
	if !ok {
		body = `{"ok":true}`
	}
	return &nats.Msg{Subject: subj, Data: []byte(body)}, nil
}

func TestSubjectUsesPrefix(t *testing.T) {
	b := New(&fakeConn{}, "app.", time.Second)
	require.Equal(t, "app.isWatchSupported", b.Subject(registryplatform.OpIsWatchSupported))
	require.Equal(t, "isWatchSupported", New(&fakeConn{}, "", 0).Subject(registryplatform.OpIsWatchSupported))
}

func TestProbeDecodesValue(t *testing.T) {
	conn := &fakeConn{replies: map[string]string{
		"app.isWatchSupported": `{"ok":true,"value":true}`,
	}}
	b := New(conn, "app", time.Second)

	supported, err := b.IsWatchSupported(context.Background())
	require.NoError(t, err)
	require.True(t, supported)

	enabled, err := b.IsCloudKitEnabled(context.Background())
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestIncrementalSyncSendsForce(t *testing.T) {
	conn := &fakeConn{}
	b := New(conn, "app", time.Second)

	require.NoError(t, b.SyncFromCloudKitIncremental(context.Background(), true))
	require.Equal(t, []string{"app.syncFromCloudKitIncremental"}, conn.subjects)
	require.JSONEq(t, `{"force":true}`, conn.payloads[0])

	require.NoError(t, b.RetryNSENotificationsToCloudKit(context.Background()))
	require.JSONEq(t, `{}`, conn.payloads[1])
}

func TestRemoteRejection(t *testing.T) {
	conn := &fakeConn{replies: map[string]string{
		"app.setupCloudKitSubscriptions": `{"ok":false,"error":"not signed in to iCloud"}`,
		"app.initializeCloudKitSchema":   `{"ok":false}`,
	}}
	b := New(conn, "app", time.Second)

	err := b.SetupCloudKitSubscriptions(context.Background())
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, registryplatform.OpSetupCloudKitSubscriptions, remote.Operation)
	require.Equal(t, "not signed in to iCloud", remote.Message)

	err = b.InitializeCloudKitSchema(context.Background())
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "rejected", remote.Message)
}

func TestTransportErrors(t *testing.T) {
	b := New(&fakeConn{err: nats.ErrNoResponders}, "app", time.Second)
	_, err := b.IsWCSyncEnabled(context.Background())
	require.ErrorIs(t, err, nats.ErrNoResponders)

	b = New(&fakeConn{replies: map[string]string{"app.isInitialSyncCompleted": "not json"}}, "app", time.Second)
	_, err = b.IsInitialSyncCompleted(context.Background())
	require.Error(t, err)
	var remote *RemoteError
	require.False(t, errors.As(err, &remote))
}

func TestLoaderRequiresURL(t *testing.T) {
	cfg := config.DefaultConfig()
	loader, err := registryplatform.Select("nats")
	require.NoError(t, err)
	_, err = loader(config.WithContext(context.Background(), &cfg))
	require.Error(t, err)
}

func TestBridgeAgainstNATSServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping NATS container test in short mode")
	}
	url := testnats.StartNATS(t)

	responder, err := nats.Connect(url)
	require.NoError(t, err)
	defer responder.Close()

	var mu sync.Mutex
	var forced []bool
	_, err = responder.Subscribe("shell.>", func(msg *nats.Msg) {
		var req request
		assert.NoError(t, json.Unmarshal(msg.Data, &req))
		out := reply{OK: true}
		switch msg.Subject {
		case "shell.isWatchSupported", "shell.isCloudKitEnabled":
			out.Value = true
		case "shell.syncFromCloudKitIncremental":
			mu.Lock()
			forced = append(forced, req.Force)
			mu.Unlock()
		}
		data, _ := json.Marshal(out)
		assert.NoError(t, msg.Respond(data))
	})
	require.NoError(t, err)
	require.NoError(t, responder.Flush())

	cfg := config.DefaultConfig()
	cfg.NATSURL = url
	cfg.NATSSubjectPrefix = "shell"
	cfg.BridgeTimeout = 5 * time.Second
	loader, err := registryplatform.Select("nats")
	require.NoError(t, err)
	bridge, err := loader(config.WithContext(context.Background(), &cfg))
	require.NoError(t, err)
	defer bridge.Close()

	ctx := context.Background()
	supported, err := bridge.IsWatchSupported(ctx)
	require.NoError(t, err)
	require.True(t, supported)

	wc, err := bridge.IsWCSyncEnabled(ctx)
	require.NoError(t, err)
	require.False(t, wc)

	require.NoError(t, bridge.SyncFromCloudKitIncremental(ctx, false))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{false}, forced)
}
