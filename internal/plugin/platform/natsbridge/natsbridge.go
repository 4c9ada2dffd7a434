// Package natsbridge reaches the native shell's companion-sync bridge over
// NATS request/reply. Each operation is a request on "<prefix>.<operation>"
// answered with {"ok":bool,"value":bool,"error":string}.
package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/config"
	registryplatform "github.com/chirino/notification-cache/internal/registry/platform"
	"github.com/nats-io/nats.go"
)

func init() {
	registryplatform.Register(registryplatform.Plugin{
		Name:   "nats",
		Loader: load,
	})
}

func load(ctx context.Context) (registryplatform.Bridge, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || strings.TrimSpace(cfg.NATSURL) == "" {
		return nil, fmt.Errorf("nats bridge: NATS URL is required")
	}
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("notification-cache-bridge"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("Bridge: NATS disconnected", "err", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats bridge: connect: %w", err)
	}
	log.Info("Bridge: connected to NATS", "url", conn.ConnectedUrlRedacted(), "prefix", cfg.NATSSubjectPrefix)
	b := New(conn, cfg.NATSSubjectPrefix, cfg.BridgeTimeout)
	b.closer = conn.Close
	return b, nil
}

// Requester is the part of *nats.Conn the bridge uses.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// RemoteError is an error reported by the native side.
type RemoteError struct {
	Operation string
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge %s: %s", e.Operation, e.Message)
}

type request struct {
	Force bool `json:"force,omitempty"`
}

type reply struct {
	OK    bool   `json:"ok"`
	Value bool   `json:"value"`
	Error string `json:"error,omitempty"`
}

// Bridge implements registryplatform.Bridge over NATS.
type Bridge struct {
	conn    Requester
	prefix  string
	timeout time.Duration
	closer  func()
}

var _ registryplatform.Bridge = (*Bridge)(nil)

// New creates a bridge. A zero timeout relies on the caller's context alone.
func New(conn Requester, prefix string, timeout time.Duration) *Bridge {
	return &Bridge{conn: conn, prefix: strings.TrimSuffix(prefix, "."), timeout: timeout}
}

// Subject returns the request subject for op.
func (b *Bridge) Subject(op string) string {
	if b.prefix == "" {
		return op
	}
	return b.prefix + "." + op
}

func (b *Bridge) call(ctx context.Context, op string, req request) (bool, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("bridge %s: encode: %w", op, err)
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	msg, err := b.conn.RequestWithContext(ctx, b.Subject(op), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return false, fmt.Errorf("bridge %s: native shell is not listening: %w", op, err)
		}
		return false, fmt.Errorf("bridge %s: %w", op, err)
	}
	var r reply
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		return false, fmt.Errorf("bridge %s: decode reply: %w", op, err)
	}
	if !r.OK {
		message := r.Error
		if message == "" {
			message = "rejected"
		}
		return false, &RemoteError{Operation: op, Message: message}
	}
	return r.Value, nil
}

func (b *Bridge) probe(ctx context.Context, op string) (bool, error) {
	return b.call(ctx, op, request{})
}

func (b *Bridge) action(ctx context.Context, op string) error {
	_, err := b.call(ctx, op, request{})
	return err
}

func (b *Bridge) IsWatchSupported(ctx context.Context) (bool, error) {
	return b.probe(ctx, registryplatform.OpIsWatchSupported)
}

func (b *Bridge) IsWCSyncEnabled(ctx context.Context) (bool, error) {
	return b.probe(ctx, registryplatform.OpIsWCSyncEnabled)
}

func (b *Bridge) RetryNSENotificationsToWatch(ctx context.Context) error {
	return b.action(ctx, registryplatform.OpRetryNSENotificationsToWatch)
}

func (b *Bridge) IsCloudKitEnabled(ctx context.Context) (bool, error) {
	return b.probe(ctx, registryplatform.OpIsCloudKitEnabled)
}

func (b *Bridge) InitializeCloudKitSchema(ctx context.Context) error {
	return b.action(ctx, registryplatform.OpInitializeCloudKitSchema)
}

func (b *Bridge) SetupCloudKitSubscriptions(ctx context.Context) error {
	return b.action(ctx, registryplatform.OpSetupCloudKitSubscriptions)
}

func (b *Bridge) IsInitialSyncCompleted(ctx context.Context) (bool, error) {
	return b.probe(ctx, registryplatform.OpIsInitialSyncCompleted)
}

func (b *Bridge) SyncFromCloudKitIncremental(ctx context.Context, force bool) error {
	_, err := b.call(ctx, registryplatform.OpSyncFromCloudKitIncremental, request{Force: force})
	return err
}

func (b *Bridge) RetryNSENotificationsToCloudKit(ctx context.Context) error {
	return b.action(ctx, registryplatform.OpRetryNSENotificationsToCloudKit)
}

func (b *Bridge) Close() error {
	if b.closer != nil {
		b.closer()
	}
	return nil
}
