package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	auth string
	req  graphQLRequest
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newServer(t *testing.T, respond func(op string, vars map[string]any) (int, any)) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		rec.mu.Lock()
		rec.calls = append(rec.calls, recorded{auth: r.Header.Get("Authorization"), req: req})
		rec.mu.Unlock()

		status, body := respond(req.OperationName, req.Variables)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server, rec
}

func staticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

func TestFetchNotificationsAndBuckets(t *testing.T) {
	updated := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	server, calls := newServer(t, func(op string, _ map[string]any) (int, any) {
		switch op {
		case "Buckets":
			return 200, map[string]any{"data": map[string]any{"buckets": []map[string]any{
				{"id": "b1", "name": "Alerts", "iconUrl": "https://x/icon.png", "updatedAt": updated},
			}}}
		case "Notifications":
			return 200, map[string]any{"data": map[string]any{"notifications": []map[string]any{
				{"id": "n1", "bucketId": "b1", "title": "hi", "createdAt": updated, "updatedAt": updated},
			}}}
		}
		return 400, map[string]any{"errors": []map[string]any{{"message": "unknown op"}}}
	})
	c := New(server.URL, 5*time.Second, "notification-cache/test", staticToken("tok"))

	buckets, err := c.FetchBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	require.Equal(t, "Alerts", buckets[0].Name)
	require.True(t, buckets[0].UpdatedAt.Equal(updated))

	notifications, err := c.FetchNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, "b1", notifications[0].BucketID)

	require.Len(t, calls.all(), 2)
	require.Equal(t, "Bearer tok", calls.all()[0].auth)
}

func TestGraphQLErrorsBecomeAPIError(t *testing.T) {
	server, _ := newServer(t, func(string, map[string]any) (int, any) {
		return 200, map[string]any{"errors": []map[string]any{
			{"message": "not logged in", "extensions": map[string]any{"code": "UNAUTHENTICATED"}},
		}}
	})
	c := New(server.URL, 5*time.Second, "", staticToken("tok"))

	_, err := c.ServerVersions(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "ServerVersions", apiErr.Operation)
	require.Equal(t, "UNAUTHENTICATED", apiErr.Code())
	require.True(t, IsUnauthorized(err))
	require.Contains(t, err.Error(), "not logged in")
}

func TestNon2xxBecomesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()
	c := New(server.URL, 5*time.Second, "", staticToken("tok"))

	err := c.UpdateUserDevice(context.Background(), "dev-1", "{}")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.False(t, IsUnauthorized(err))
}

func TestMissingTokenFailsWithoutCall(t *testing.T) {
	server, calls := newServer(t, func(string, map[string]any) (int, any) { return 200, map[string]any{} })
	c := New(server.URL, 5*time.Second, "", staticToken(""))

	_, err := c.FetchBuckets(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
	require.Empty(t, calls.all())
}

func TestUpdateUserDeviceAndRotateKeysSendVariables(t *testing.T) {
	server, calls := newServer(t, func(op string, vars map[string]any) (int, any) {
		if op == "RotateDeviceKeys" {
			return 200, map[string]any{"data": map[string]any{"rotateDeviceKeys": map[string]any{"accepted": false}}}
		}
		return 200, map[string]any{"data": map[string]any{"updateUserDevice": map[string]any{"id": "dev-1"}}}
	})
	c := New(server.URL, 5*time.Second, "", staticToken("tok"))

	require.NoError(t, c.UpdateUserDevice(context.Background(), "dev-1", `{"appVersion":"1.2.3"}`))
	input := calls.all()[0].req.Variables["input"].(map[string]any)
	require.Equal(t, "dev-1", input["deviceId"])
	require.Equal(t, `{"appVersion":"1.2.3"}`, input["metadata"])

	accepted, err := c.RotateDeviceKeys(context.Background(), "dev-1", "push-token", "cHVi")
	require.NoError(t, err)
	require.False(t, accepted)
	input = calls.all()[1].req.Variables["input"].(map[string]any)
	require.Equal(t, "cHVi", input["publicKey"])
	require.Equal(t, "push-token", input["deviceToken"])
}
