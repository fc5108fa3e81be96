// ABOUTME: Envelope is the tagged unit of fan-out within a room
// ABOUTME: Immutable once built; the actor relays payloads without inspecting them

package room

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeKind tags the variant of an envelope. The room actor routes on the
// kind alone and treats the payload as opaque bytes.
type EnvelopeKind string

const (
	KindNewMessage     EnvelopeKind = "new-message"
	KindMessageRead    EnvelopeKind = "message-read"
	KindUserOnline     EnvelopeKind = "user-online"
	KindUserOffline    EnvelopeKind = "user-offline"
	KindTypingStart    EnvelopeKind = "typing-start"
	KindTypingStop     EnvelopeKind = "typing-stop"
	KindFriendRequest  EnvelopeKind = "friend-request"
	KindFriendAccepted EnvelopeKind = "friend-accepted"
)

// relayable reports whether a client-originated envelope of this kind may be
// republished by the actor. New messages are deliberately excluded: they reach
// a room only via server-side publish after the message has been persisted.
func (k EnvelopeKind) relayable() bool {
	switch k {
	case KindTypingStart, KindTypingStop, KindMessageRead:
		return true
	default:
		return false
	}
}

// Envelope is the wire unit broadcast to sessions:
// {"kind": ..., "payload": {...}, "timestamp": unix-millis}.
type Envelope struct {
	Kind      EnvelopeKind    `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope builds an envelope of the given kind, marshaling payload and
// stamping the current time.
func NewEnvelope(kind EnvelopeKind, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope payload: %w", err)
	}
	return &Envelope{
		Kind:      kind,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// presenceEnvelope builds a user-online or user-offline envelope for a subject.
func presenceEnvelope(kind EnvelopeKind, subjectID string) *Envelope {
	raw, _ := json.Marshal(map[string]string{"userId": subjectID})
	return &Envelope{
		Kind:      kind,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}
}

// StampSender rewrites the payload's senderId to the verified subject,
// overwriting whatever the client claimed, and refreshes the timestamp.
// Returns a new envelope; the input is left untouched.
func (e *Envelope) StampSender(subjectID string) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &fields); err != nil {
			return nil, fmt.Errorf("parsing envelope payload: %w", err)
		}
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	sender, _ := json.Marshal(subjectID)
	fields["senderId"] = sender

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("rebuilding envelope payload: %w", err)
	}
	return &Envelope{
		Kind:      e.Kind,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}
