package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/notification-cache/internal/settings"
	"github.com/chirino/notification-cache/internal/testutil/memstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*gin.Engine, *settings.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := settings.New(memstore.New(), settings.RetentionPolicy{MaxNotifications: 500, CleanupInterval: time.Hour})
	r := gin.New()
	MountRoutes(r, svc)
	return r, svc
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	return rec
}

func TestPutAuthMergesFields(t *testing.T) {
	r, svc := newRouter(t)
	ctx := context.Background()

	rec := do(r, http.MethodPut, "/v1/auth", `{"accessToken":" tok ","deviceId":"dev-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"hasAccessToken":true}`, rec.Body.String())

	rec = do(r, http.MethodPut, "/v1/auth", `{"deviceToken":"push-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	auth, err := svc.AuthData(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok", auth.AccessToken)
	require.Equal(t, "dev-1", auth.DeviceID)
	require.Equal(t, "push-1", auth.DeviceToken)
}

func TestPutAuthRejectsMalformedBody(t *testing.T) {
	r, _ := newRouter(t)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/v1/auth", `{"accessToken":`).Code)
}

func TestRetentionRoundTrip(t *testing.T) {
	r, svc := newRouter(t)

	rec := do(r, http.MethodGet, "/v1/retention", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body retentionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 500, body.MaxNotifications)
	require.Equal(t, "1h0m0s", body.CleanupInterval)

	rec = do(r, http.MethodPut, "/v1/retention",
		`{"maxNotifications":10,"maxNotificationAge":"P30D","maxMediaItems":5,"maxMediaAge":"720h","cleanupInterval":"PT6H"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	p, err := svc.RetentionPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, settings.RetentionPolicy{
		MaxNotifications:   10,
		MaxNotificationAge: 30 * 24 * time.Hour,
		MaxMediaItems:      5,
		MaxMediaAge:        720 * time.Hour,
		CleanupInterval:    6 * time.Hour,
	}, p)
}

func TestPutRetentionRejectsInvalidValues(t *testing.T) {
	r, svc := newRouter(t)

	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/v1/retention", `{"maxNotifications":-1}`).Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/v1/retention", `{"maxMediaAge":"soon"}`).Code)

	p, err := svc.RetentionPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, 500, p.MaxNotifications, "rejected bodies leave the stored policy alone")
}
