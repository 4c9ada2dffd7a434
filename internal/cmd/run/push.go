package run

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/flight"
	"github.com/chirino/notification-cache/internal/service"
	"github.com/nats-io/nats.go"
)

// Triggerer starts or joins a cleanup run.
type Triggerer interface {
	Trigger(ctx context.Context, opts service.CleanupOptions) *flight.Flight
}

// PushSubject is the subject the client shell publishes on when a push
// notification arrives.
func PushSubject(prefix string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return "push.received"
	}
	return prefix + ".push.received"
}

// subscribePush triggers a cleanup for every message on the push subject.
func subscribePush(ctx context.Context, conn *nats.Conn, subject string, orch Triggerer) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		onPushReceived(ctx, orch, msg.Subject)
	})
	if err != nil {
		return nil, err
	}
	log.Info("Listening for push triggers", "subject", subject)
	return sub, nil
}

func onPushReceived(ctx context.Context, orch Triggerer, subject string) {
	if f := orch.Trigger(ctx, service.CleanupOptions{}); f == nil {
		log.Debug("Push received; cleanup throttled", "subject", subject)
		return
	}
	log.Info("Push received; cleanup triggered", "subject", subject)
}
