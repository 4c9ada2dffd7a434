// Package backend talks to the notification server's GraphQL endpoint.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/model"
	"github.com/go-resty/resty/v2"
)

// ErrNoToken is returned when an operation needs auth and none is available.
var ErrNoToken = errors.New("backend: no access token")

// TokenSource supplies the bearer token for each call.
type TokenSource func(ctx context.Context) (string, error)

// Client is a GraphQL-over-HTTP client.
type Client struct {
	http  *resty.Client
	token TokenSource
}

// New creates a client for baseURL. The GraphQL endpoint is baseURL/graphql.
func New(baseURL string, timeout time.Duration, userAgent string, token TokenSource) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if userAgent != "" {
		httpClient.SetHeader("User-Agent", userAgent)
	}
	httpClient.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		log.Debug("Backend request", "method", req.Method, "url", req.URL)
		return nil
	})
	httpClient.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		log.Debug("Backend response", "status", resp.StatusCode(), "duration", resp.Time())
		return nil
	})
	return &Client{http: httpClient, token: token}
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

func (c *Client) do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetBody(graphQLRequest{Query: query, OperationName: operation, Variables: variables})

	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("backend %s: token: %w", operation, err)
		}
		if token == "" {
			return ErrNoToken
		}
		req.SetAuthToken(token)
	}

	resp, err := req.Post("/graphql")
	if err != nil {
		return fmt.Errorf("backend %s: %w", operation, err)
	}

	var body graphQLResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		if resp.IsError() {
			return &APIError{Operation: operation, StatusCode: resp.StatusCode(), Message: string(resp.Body())}
		}
		return fmt.Errorf("backend %s: decode response: %w", operation, err)
	}
	if resp.IsError() || len(body.Errors) > 0 {
		return &APIError{
			Operation:  operation,
			StatusCode: resp.StatusCode(),
			Message:    resp.Status(),
			Errors:     body.Errors,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return fmt.Errorf("backend %s: decode data: %w", operation, err)
	}
	return nil
}

const bucketsQuery = `query Buckets {
  buckets { id name iconUrl color updatedAt }
}`

// FetchBuckets returns every bucket the user is subscribed to.
func (c *Client) FetchBuckets(ctx context.Context) ([]model.Bucket, error) {
	var data struct {
		Buckets []model.Bucket `json:"buckets"`
	}
	if err := c.do(ctx, "Buckets", bucketsQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.Buckets, nil
}

const notificationsQuery = `query Notifications {
  notifications { id bucketId title subtitle body imageUrl createdAt updatedAt readAt }
}`

// FetchNotifications returns the server's current notification set.
func (c *Client) FetchNotifications(ctx context.Context) ([]model.Notification, error) {
	var data struct {
		Notifications []model.Notification `json:"notifications"`
	}
	if err := c.do(ctx, "Notifications", notificationsQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.Notifications, nil
}

// ServerVersions is the answer of the serverVersions query.
type ServerVersions struct {
	BackendVersion string `json:"backendVersion"`
	DockerVersion  string `json:"dockerVersion"`
}

const serverVersionsQuery = `query ServerVersions {
  serverVersions { backendVersion dockerVersion }
}`

func (c *Client) ServerVersions(ctx context.Context) (*ServerVersions, error) {
	var data struct {
		ServerVersions ServerVersions `json:"serverVersions"`
	}
	if err := c.do(ctx, "ServerVersions", serverVersionsQuery, nil, &data); err != nil {
		return nil, err
	}
	return &data.ServerVersions, nil
}

const updateUserDeviceMutation = `mutation UpdateUserDevice($input: UpdateUserDeviceInput!) {
  updateUserDevice(input: $input) { id }
}`

// UpdateUserDevice stores metadata (a JSON document) on the device record.
func (c *Client) UpdateUserDevice(ctx context.Context, deviceID, metadata string) error {
	vars := map[string]any{
		"input": map[string]any{"deviceId": deviceID, "metadata": metadata},
	}
	return c.do(ctx, "UpdateUserDevice", updateUserDeviceMutation, vars, nil)
}

const rotateDeviceKeysMutation = `mutation RotateDeviceKeys($input: RotateDeviceKeysInput!) {
  rotateDeviceKeys(input: $input) { accepted }
}`

// RotateDeviceKeys uploads a new device public key. accepted is false when
// the server refused the rotation without an error.
func (c *Client) RotateDeviceKeys(ctx context.Context, deviceID, deviceToken, publicKey string) (bool, error) {
	vars := map[string]any{
		"input": map[string]any{
			"deviceId":    deviceID,
			"deviceToken": deviceToken,
			"publicKey":   publicKey,
		},
	}
	var data struct {
		RotateDeviceKeys struct {
			Accepted bool `json:"accepted"`
		} `json:"rotateDeviceKeys"`
	}
	if err := c.do(ctx, "RotateDeviceKeys", rotateDeviceKeysMutation, vars, &data); err != nil {
		return false, err
	}
	return data.RotateDeviceKeys.Accepted, nil
}
