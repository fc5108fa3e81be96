// ABOUTME: Offline-push event publishing for recipients without a live session
// ABOUTME: Events go to an AMQP topic exchange consumed by the mobile fan-out

package notify

import (
	"context"
	"encoding/json"
	"time"
)

// Event kinds handed to the push fan-out.
const (
	KindMessage        = "message"
	KindFriendRequest  = "friend-request"
	KindFriendAccepted = "friend-accepted"
)

// Event describes something that happened while its recipients had no live
// session. The actual device delivery is an external collaborator; this
// package only hands events over the wire.
type Event struct {
	Kind       string          `json:"kind"`
	TenantID   string          `json:"tenantId"`
	Recipients []string        `json:"recipients"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Publisher hands push events to the external fan-out.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
	Close() error
}

// Noop discards all events. Used when push notification is disabled.
type Noop struct{}

func (Noop) Publish(context.Context, *Event) error { return nil }
func (Noop) Close() error                          { return nil }
